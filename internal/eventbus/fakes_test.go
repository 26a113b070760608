package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
)

type fakeDelivery struct {
	subject string
	data    []byte
	headers nats.Header

	mu    sync.Mutex
	acked int
	naked int
}

func newDelivery(t *testing.T, subject string, msg Message) *fakeDelivery {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	h := nats.Header{}
	if msg.Key != "" {
		h.Set(HeaderEventKey, msg.Key)
	}
	return &fakeDelivery{subject: subject, data: raw, headers: h}
}

func (d *fakeDelivery) Subject() string      { return d.subject }
func (d *fakeDelivery) Data() []byte         { return d.data }
func (d *fakeDelivery) Headers() nats.Header { return d.headers }

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked++
	return nil
}

func (d *fakeDelivery) Nak() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.naked++
	return nil
}

func (d *fakeDelivery) settled() (acked, naked int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.naked
}

type fakeStream struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	fail map[string]error
}

func (s *fakeStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.Header.Get(HeaderEventKey)]; err != nil {
		return nil, err
	}
	s.msgs = append(s.msgs, msg)
	return &jetstream.PubAck{Stream: "REAL_ESTATE_EVENTS", Sequence: uint64(len(s.msgs))}, nil
}

func (s *fakeStream) published() []*nats.Msg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*nats.Msg, len(s.msgs))
	copy(out, s.msgs)
	return out
}
