package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/realty-mesh/domain"
)

func TestReadEvents(t *testing.T) {
	input := `
# seed listings
{"eventType": "property.created", "data": {"id": "P1", "title": "Lake House"}}
{"eventType": "property.status-changed", "key": "P1", "data": {"newStatus": "sold"}, "timestamp": 42}
{"topic": "custom.topic", "eventType": "property.updated", "data": {"id": "P2"}}
`
	events, err := readEvents(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, domain.TopicPropertyCreated, events[0].Topic)
	assert.Equal(t, "P1", events[0].Key)
	assert.Equal(t, domain.TopicPropertyStatusChanged, events[1].Topic)
	assert.Equal(t, int64(42), events[1].Timestamp)
	assert.Equal(t, "custom.topic", events[2].Topic)
	assert.Equal(t, "P2", events[2].Key)
}

func TestReadEventsRejectsMissingType(t *testing.T) {
	_, err := readEvents(strings.NewReader(`{"data": {}}`))
	assert.ErrorContains(t, err, "line 1")
}

func TestGroupByTopicKeepsOrder(t *testing.T) {
	events := []domain.Event{
		{Topic: "a", EventType: "x", Key: "1"},
		{Topic: "b", EventType: "x", Key: "2"},
		{Topic: "a", EventType: "x", Key: "3"},
	}
	topics, groups := groupByTopic(events)

	assert.Equal(t, []string{"a", "b"}, topics)
	require.Len(t, groups["a"], 2)
	assert.Equal(t, "1", groups["a"][0].Key)
	assert.Equal(t, "3", groups["a"][1].Key)
}

func TestParseFlags(t *testing.T) {
	_, err := parseFlags(nil)
	assert.Error(t, err)

	opts, err := parseFlags([]string{"-type", "property.deleted", "-key", "P1"})
	require.NoError(t, err)
	assert.Equal(t, "property.deleted", opts.eventType)

	events, err := loadEvents(opts)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TopicPropertyDeleted, events[0].Topic)
	assert.JSONEq(t, `{}`, string(events[0].Data))
}
