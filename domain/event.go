package domain

import (
	"encoding/json"
	"time"
)

// TopicPrefix is shared by every topic of the realty event domain.
const TopicPrefix = "real-estate.events."

// Topics published by the property service.
const (
	TopicPropertyCreated       = "real-estate.events.property.created"
	TopicPropertyUpdated       = "real-estate.events.property.updated"
	TopicPropertyArchived      = "real-estate.events.property.archived"
	TopicPropertyStatusChanged = "real-estate.events.property.status-changed"
	TopicPropertyDeleted       = "real-estate.events.property.deleted"

	// TopicPropertyAll matches every property topic.
	TopicPropertyAll = "real-estate.events.property.*"
	// TopicAll matches every topic of the realty event domain.
	TopicAll = "real-estate.events.>"
)

// Event types carried in the envelope value.
const (
	EventPropertyCreated       = "property.created"
	EventPropertyUpdated       = "property.updated"
	EventPropertyArchived      = "property.archived"
	EventPropertyStatusChanged = "property.status-changed"
	EventPropertyDeleted       = "property.deleted"
)

// Event is a domain state change as seen by consumers.
type Event struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Key       string          `json:"key,omitempty"`
}

// Time returns the event timestamp as wall clock time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// NowMillis returns the current wall clock in epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType string) string {
	return TopicPrefix + eventType
}
