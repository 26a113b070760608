package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/realty-mesh/domain"
	"github.com/fastygo/realty-mesh/internal/metrics"
)

// StreamPublisher is the subset of jetstream.JetStream used for publishing.
type StreamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher writes messages to broker topics. It does not retry; a failed
// publish is logged and returned to the caller.
type Publisher struct {
	js      StreamPublisher
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() int64
}

func NewPublisher(js StreamPublisher, logger *zap.Logger, m *metrics.Registry) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{js: js, logger: logger, metrics: m, now: domain.NowMillis}
}

// Publish stamps msg with the current time when it has none and sends it to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, msg Message) error {
	msg = stamp(msg, p.now())

	payload, err := json.Marshal(msg)
	if err != nil {
		p.metrics.EventPublished(topic, err)
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}

	natsMsg := nats.NewMsg(topic)
	natsMsg.Data = payload
	for k, v := range msg.Headers {
		natsMsg.Header.Set(k, v)
	}
	natsMsg.Header.Set(HeaderEventType, msg.Value.EventType)
	if msg.Key != "" {
		natsMsg.Header.Set(HeaderEventKey, msg.Key)
	}

	ack, err := p.js.PublishMsg(ctx, natsMsg)
	p.metrics.EventPublished(topic, err)
	if err != nil {
		p.logger.Error("publish failed",
			zap.String("topic", topic),
			zap.String("event_type", msg.Value.EventType),
			zap.String("key", msg.Key),
			zap.Error(err),
		)
		return err
	}

	if ack != nil {
		p.logger.Debug("event published",
			zap.String("topic", topic),
			zap.String("event_type", msg.Value.EventType),
			zap.String("key", msg.Key),
			zap.Uint64("seq", ack.Sequence),
		)
	}
	return nil
}

// PublishBatch publishes every message concurrently and waits for all of them.
// It returns the first error; messages that did get through are not reported.
func (p *Publisher) PublishBatch(ctx context.Context, topic string, msgs []Message) error {
	var g errgroup.Group
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			return p.Publish(ctx, topic, msg)
		})
	}
	return g.Wait()
}

// PublishEvent publishes a domain event on its own topic.
func (p *Publisher) PublishEvent(ctx context.Context, evt domain.Event) error {
	if evt.Topic == "" {
		return fmt.Errorf("publish %s: topic is required", evt.EventType)
	}
	return p.Publish(ctx, evt.Topic, NewMessage(evt))
}
