package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultHealthPath is probed on every upstream.
const DefaultHealthPath = "/health"

// Snapshot maps each registered service to its probe result.
type Snapshot map[string]bool

// Healthy reports whether every service answered its probe.
func (s Snapshot) Healthy() bool {
	for _, ok := range s {
		if !ok {
			return false
		}
	}
	return true
}

// Aggregator probes upstream health through the dispatcher.
type Aggregator struct {
	dispatcher *Dispatcher
	path       string
	logger     *zap.Logger
}

func NewAggregator(dispatcher *Dispatcher, path string, logger *zap.Logger) *Aggregator {
	if path == "" {
		path = DefaultHealthPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{dispatcher: dispatcher, path: path, logger: logger}
}

// Services lists the services a snapshot covers.
func (a *Aggregator) Services() []string {
	return a.dispatcher.Services()
}

// Has reports whether name is a registered service.
func (a *Aggregator) Has(name string) bool {
	return a.dispatcher.Has(name)
}

// Probe reports whether a single service answers its health endpoint.
func (a *Aggregator) Probe(ctx context.Context, name string) bool {
	if _, err := a.dispatcher.Get(ctx, name, a.path, nil); err != nil {
		a.logger.Debug("health probe failed", zap.String("service", name), zap.Error(err))
		return false
	}
	return true
}

// ProbeAll probes every service concurrently and returns once all have settled.
// Probes never cancel each other; a failing probe only contributes false.
func (a *Aggregator) ProbeAll(ctx context.Context) Snapshot {
	names := a.dispatcher.Services()
	snapshot := make(Snapshot, len(names))

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, name := range names {
		name := name
		g.Go(func() error {
			healthy := a.Probe(ctx, name)
			mu.Lock()
			snapshot[name] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return snapshot
}
