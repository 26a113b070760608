package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fastygo/realty-mesh/domain"
)

// Header names copied onto every broker message.
const (
	HeaderEventType = "Event-Type"
	HeaderEventKey  = "Event-Key"
)

// ErrMalformedEnvelope marks payloads that cannot be decoded into an Envelope.
var ErrMalformedEnvelope = errors.New("eventbus: malformed envelope")

// Value is the event body: what happened, its data and when.
type Value struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Message is what publishers hand to the bus.
type Message struct {
	Key       string            `json:"key,omitempty"`
	Value     Value             `json:"value"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

// Envelope is the wire form of a Message.
type Envelope = Message

// NewMessage builds a Message from a domain event.
func NewMessage(evt domain.Event) Message {
	return Message{
		Key: evt.Key,
		Value: Value{
			EventType: evt.EventType,
			Data:      evt.Data,
			Timestamp: evt.Timestamp,
		},
		Timestamp: evt.Timestamp,
	}
}

// NewValue encodes data into an event value.
func NewValue(eventType string, data interface{}, timestamp int64) (Value, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Value{}, fmt.Errorf("encode %s data: %w", eventType, err)
	}
	return Value{EventType: eventType, Data: raw, Timestamp: timestamp}, nil
}

// stamp fills missing timestamps with now (epoch millis).
func stamp(msg Message, now int64) Message {
	if msg.Timestamp == 0 {
		msg.Timestamp = now
	}
	if msg.Value.Timestamp == 0 {
		msg.Value.Timestamp = msg.Timestamp
	}
	return msg
}

// Decode parses a wire payload into a domain event for topic.
func Decode(topic string, payload []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	ts := env.Value.Timestamp
	if ts == 0 {
		ts = env.Timestamp
	}
	return domain.Event{
		Topic:     topic,
		EventType: env.Value.EventType,
		Data:      env.Value.Data,
		Timestamp: ts,
		Key:       env.Key,
	}, nil
}
