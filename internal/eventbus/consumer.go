package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// ConsumerConfig binds a router to a durable consumer on the event stream.
type ConsumerConfig struct {
	Stream        string
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	Workers       int
	// Buffer is the queue depth of each worker.
	Buffer int
}

// ConsumerFactory is the subset of jetstream.JetStream used to bind consumers.
type ConsumerFactory interface {
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// Consumer pulls events for its filter subject and feeds them to the router.
// Stop drains then cancels: pulling stops first, in-flight handlers may
// finish until the stop context expires, then their contexts are cancelled.
// Anything left unacknowledged is redelivered by the broker after AckWait.
type Consumer struct {
	js     ConsumerFactory
	router *Router
	cfg    ConsumerConfig
	logger *zap.Logger

	mu      sync.Mutex
	pool    *shardPool
	consume jetstream.ConsumeContext
}

func NewConsumer(js ConsumerFactory, router *Router, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{js: js, router: router, cfg: cfg, logger: logger}
}

// Start creates or updates the durable consumer and begins pulling.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consume != nil {
		return fmt.Errorf("consumer %s already started", c.cfg.Durable)
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: c.cfg.Workers * c.cfg.Buffer * 2,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.cfg.Durable, err)
	}

	pool := newShardPool(c.cfg.Workers, c.cfg.Buffer, func(ctx context.Context, d Delivery) {
		_ = c.router.Dispatch(ctx, d)
	})
	pool.start()

	consume, err := cons.Consume(func(msg jetstream.Msg) {
		pool.submit(msg)
	}, jetstream.PullMaxMessages(c.cfg.Workers*c.cfg.Buffer))
	if err != nil {
		_ = pool.stop(ctx)
		return fmt.Errorf("consume %s: %w", c.cfg.FilterSubject, err)
	}

	c.pool = pool
	c.consume = consume
	c.logger.Info("consumer started",
		zap.String("stream", c.cfg.Stream),
		zap.String("durable", c.cfg.Durable),
		zap.String("filter", c.cfg.FilterSubject),
		zap.Strings("event_types", c.router.EventTypes()),
		zap.Int("workers", c.cfg.Workers),
	)
	return nil
}

// Stop halts pulling and waits for in-flight handlers as long as ctx allows.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	consume, pool := c.consume, c.pool
	c.consume, c.pool = nil, nil
	c.mu.Unlock()

	if consume == nil {
		return nil
	}
	consume.Stop()

	if err := pool.stop(ctx); err != nil {
		c.logger.Warn("consumer stopped before handlers finished", zap.Error(err))
		return err
	}
	c.logger.Info("consumer stopped", zap.String("durable", c.cfg.Durable))
	return nil
}
