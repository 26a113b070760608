package eventbus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/metrics"
)

// Handler applies one event. Handlers must be idempotent: the broker may
// deliver the same event more than once.
type Handler func(ctx context.Context, evt domain.Event) error

// Delivery is a received broker message awaiting settlement.
// jetstream.Msg satisfies it.
type Delivery interface {
	Subject() string
	Data() []byte
	Headers() nats.Header
	Ack() error
	Nak() error
}

// Consumption outcomes, also used as metric labels.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeDropped     = "dropped"
	OutcomeDecodeError = "decode_error"
)

// Router dispatches deliveries to the handler registered for their event type.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *zap.Logger
	metrics  *metrics.Registry
}

func NewRouter(logger *zap.Logger, m *metrics.Registry) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]Handler),
		logger:   logger,
		metrics:  m,
	}
}

// Handle registers h for eventType, replacing any previous handler.
func (r *Router) Handle(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// EventTypes lists the registered event types.
func (r *Router) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Dispatch decodes d, runs its handler and settles the delivery:
// success and unknown event types are acknowledged, decode and handler
// failures are negatively acknowledged so the broker redelivers them.
func (r *Router) Dispatch(ctx context.Context, d Delivery) error {
	subject := d.Subject()
	evt, err := Decode(subject, d.Data())
	if err != nil {
		r.logger.Error("undecodable event", zap.String("topic", subject), zap.Error(err))
		r.metrics.EventConsumed("unknown", OutcomeDecodeError, 0)
		r.settle(d, false, subject)
		return err
	}
	if evt.Key == "" {
		evt.Key = d.Headers().Get(HeaderEventKey)
	}

	log := r.logger.With(
		zap.String("topic", subject),
		zap.String("event_type", evt.EventType),
		zap.String("key", evt.Key),
	)

	r.mu.RLock()
	handler, ok := r.handlers[evt.EventType]
	r.mu.RUnlock()
	if !ok {
		log.Warn("no handler for event type, dropping")
		r.metrics.EventConsumed(evt.EventType, OutcomeDropped, 0)
		r.settle(d, true, subject)
		return nil
	}

	start := time.Now()
	err = handler(ctx, evt)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("event handler failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		r.metrics.EventConsumed(evt.EventType, OutcomeError, elapsed)
		r.settle(d, false, subject)
		return err
	}

	log.Debug("event handled", zap.Duration("elapsed", elapsed))
	r.metrics.EventConsumed(evt.EventType, OutcomeOK, elapsed)
	r.settle(d, true, subject)
	return nil
}

func (r *Router) settle(d Delivery, ack bool, subject string) {
	var err error
	if ack {
		err = d.Ack()
	} else {
		err = d.Nak()
	}
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		r.logger.Warn("settle delivery failed", zap.String("topic", subject), zap.Bool("ack", ack), zap.Error(err))
	}
}
