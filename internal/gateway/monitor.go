package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/realty-mesh/internal/metrics"
)

// Status is the last completed probe round.
type Status struct {
	Services  Snapshot  `json:"services"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
}

// Monitor refreshes a health snapshot on a fixed schedule.
type Monitor struct {
	aggregator *Aggregator
	metrics    *metrics.Registry
	logger     *zap.Logger
	interval   time.Duration
	cron       *cron.Cron

	// first tracks the round Start launches outside the schedule.
	first       sync.WaitGroup
	cancelFirst context.CancelFunc

	status Status
	mu     sync.RWMutex
}

func NewMonitor(aggregator *Aggregator, interval time.Duration, m *metrics.Registry, logger *zap.Logger) (*Monitor, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	initial := make(Snapshot)
	for _, name := range aggregator.Services() {
		initial[name] = false
	}

	mon := &Monitor{
		aggregator: aggregator,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		cron:       cron.New(),
		status:     Status{Services: initial},
	}

	schedule := fmt.Sprintf("@every %s", interval)
	if _, err := mon.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		mon.Refresh(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule health monitor: %w", err)
	}

	return mon, nil
}

// Start runs a first probe round in the background and starts the schedule.
func (m *Monitor) Start() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	m.cancelFirst = cancel
	m.first.Add(1)
	go func() {
		defer m.first.Done()
		defer cancel()
		m.Refresh(ctx)
	}()
	m.cron.Start()
	m.logger.Info("health monitor started", zap.Duration("interval", m.interval))
}

// Stop halts the schedule and cancels the first round, waiting for running
// rounds until ctx expires.
func (m *Monitor) Stop(ctx context.Context) {
	stopCtx := m.cron.Stop()
	if m.cancelFirst != nil {
		m.cancelFirst()
	}

	done := make(chan struct{})
	go func() {
		m.first.Wait()
		<-stopCtx.Done()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	m.logger.Info("health monitor stopped")
}

// Refresh probes every service and publishes the complete snapshot.
func (m *Monitor) Refresh(ctx context.Context) Status {
	snapshot := m.aggregator.ProbeAll(ctx)
	status := Status{
		Services:  snapshot,
		Healthy:   snapshot.Healthy(),
		LastCheck: time.Now().UTC(),
	}

	for name, healthy := range snapshot {
		m.metrics.SetUpstreamHealth(name, healthy)
		if !healthy {
			m.logger.Warn("upstream unhealthy", zap.String("service", name))
		}
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	return copyStatus(status)
}

// Status returns a copy of the last completed round.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStatus(m.status)
}

// IsHealthy reports whether the last round found every upstream healthy.
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Healthy
}

func copyStatus(s Status) Status {
	services := make(Snapshot, len(s.Services))
	for k, v := range s.Services {
		services[k] = v
	}
	s.Services = services
	return s
}
