package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/metrics"
)

func createdMessage(id string, ts int64) Message {
	return Message{
		Key: id,
		Value: Value{
			EventType: domain.EventPropertyCreated,
			Data:      json.RawMessage(`{"id":"` + id + `","title":"Lake House"}`),
			Timestamp: ts,
		},
		Timestamp: ts,
	}
}

func TestRouterDispatchesByEventType(t *testing.T) {
	r := NewRouter(nil, metrics.New())
	var got domain.Event
	r.Handle(domain.EventPropertyCreated, func(_ context.Context, evt domain.Event) error {
		got = evt
		return nil
	})

	d := newDelivery(t, domain.TopicPropertyCreated, createdMessage("P1", 100))
	require.NoError(t, r.Dispatch(context.Background(), d))

	acked, naked := d.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, naked)
	assert.Equal(t, domain.TopicPropertyCreated, got.Topic)
	assert.Equal(t, "P1", got.Key)
	assert.Equal(t, int64(100), got.Timestamp)
	assert.JSONEq(t, `{"id":"P1","title":"Lake House"}`, string(got.Data))
}

func TestRouterDropsUnknownEventType(t *testing.T) {
	r := NewRouter(nil, nil)
	msg := createdMessage("P1", 1)
	msg.Value.EventType = "property.viewed"

	d := newDelivery(t, "real-estate.events.property.viewed", msg)
	require.NoError(t, r.Dispatch(context.Background(), d))

	acked, naked := d.settled()
	assert.Equal(t, 1, acked)
	assert.Zero(t, naked)
}

func TestRouterNaksHandlerFailure(t *testing.T) {
	r := NewRouter(nil, nil)
	boom := errors.New("index unavailable")
	r.Handle(domain.EventPropertyCreated, func(context.Context, domain.Event) error { return boom })

	d := newDelivery(t, domain.TopicPropertyCreated, createdMessage("P1", 1))
	err := r.Dispatch(context.Background(), d)

	assert.ErrorIs(t, err, boom)
	acked, naked := d.settled()
	assert.Zero(t, acked)
	assert.Equal(t, 1, naked)
}

func TestRouterNaksMalformedPayload(t *testing.T) {
	r := NewRouter(nil, nil)
	d := &fakeDelivery{subject: domain.TopicPropertyCreated, data: []byte("{not json")}

	err := r.Dispatch(context.Background(), d)

	assert.ErrorIs(t, err, ErrMalformedEnvelope)
	_, naked := d.settled()
	assert.Equal(t, 1, naked)
}

func TestRouterFallsBackToHeaderKeyAndEnvelopeTimestamp(t *testing.T) {
	r := NewRouter(nil, nil)
	var got domain.Event
	r.Handle(domain.EventPropertyArchived, func(_ context.Context, evt domain.Event) error {
		got = evt
		return nil
	})

	d := &fakeDelivery{
		subject: domain.TopicPropertyArchived,
		data:    []byte(`{"value":{"eventType":"property.archived","data":{"id":"P9"}},"timestamp":77}`),
		headers: map[string][]string{HeaderEventKey: {"P9"}},
	}
	require.NoError(t, r.Dispatch(context.Background(), d))

	assert.Equal(t, "P9", got.Key)
	assert.Equal(t, int64(77), got.Timestamp)
}

func TestRouterEventTypes(t *testing.T) {
	r := NewRouter(nil, nil)
	noop := func(context.Context, domain.Event) error { return nil }
	r.Handle(domain.EventPropertyUpdated, noop)
	r.Handle(domain.EventPropertyCreated, noop)

	assert.Equal(t, []string{domain.EventPropertyCreated, domain.EventPropertyUpdated}, r.EventTypes())
}
