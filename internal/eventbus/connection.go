package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when the broker is used before Connect.
var ErrNotConnected = errors.New("eventbus: not connected")

// ConnectionConfig describes the broker endpoint and the stream backing all topics.
type ConnectionConfig struct {
	URL            string
	Name           string
	Stream         string
	Subjects       []string
	MaxAge         time.Duration
	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
}

// Connection owns the process-wide NATS connection and its JetStream context.
type Connection struct {
	cfg    ConnectionConfig
	logger *zap.Logger

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed chan struct{}
}

func NewConnection(cfg ConnectionConfig, logger *zap.Logger) *Connection {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{cfg: cfg, logger: logger}
}

// Connect dials the broker, giving up when ctx or the connect timeout expires.
func (c *Connection) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.Timeout(c.cfg.ConnectTimeout),
		nats.DrainTimeout(c.cfg.DrainTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("broker disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("broker reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.cfg.URL, opts...)
		done <- result{conn: conn, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		return fmt.Errorf("connect to broker: %w", ctx.Err())
	}
	if res.err != nil {
		return fmt.Errorf("connect to broker: %w", res.err)
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		return fmt.Errorf("init jetstream: %w", err)
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = js
	c.closed = closed
	c.mu.Unlock()

	c.logger.Info("broker connected", zap.String("url", res.conn.ConnectedUrl()))
	return nil
}

// JetStream returns the JetStream context of a connected broker.
func (c *Connection) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// EnsureStream creates or updates the stream that captures every topic.
func (c *Connection) EnsureStream(ctx context.Context) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.Subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    c.cfg.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", c.cfg.Stream, err)
	}
	c.logger.Info("stream ready", zap.String("stream", c.cfg.Stream), zap.Strings("subjects", c.cfg.Subjects))
	return nil
}

// IsConnected reports the live connection state.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains the connection, forcing it closed when ctx expires first.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("drain broker connection: %w", err)
	}

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		conn.Close()
		return fmt.Errorf("drain broker connection: %w", ctx.Err())
	}
}
