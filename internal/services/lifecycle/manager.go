package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// StartFunc brings a component up. It must not block past startup.
type StartFunc func(ctx context.Context) error

// ShutdownFunc describes a graceful shutdown callback.
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name  string
	start StartFunc
	stop  ShutdownFunc
}

// Manager starts components in registration order, stops them in reverse
// order and reacts to OS signals.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	hooks   []hook
	started int
}

// New creates a lifecycle manager with the desired timeout.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown hook for a component that is already running.
func (m *Manager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, stop: fn})
	if m.started == len(m.hooks)-1 {
		m.started++
	}
}

// Component adds a component started by Start. Either func may be nil.
func (m *Manager) Component(name string, start StartFunc, stop ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, start: start, stop: stop})
}

// Start runs pending start hooks in order. When one fails, the components
// started so far are shut down and the start error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	pending := m.hooks[m.started:]
	m.mu.Unlock()

	for _, h := range pending {
		if h.start != nil {
			if err := h.start(ctx); err != nil {
				m.logger.Error("component failed to start", zap.String("component", h.name), zap.Error(err))
				startErr := fmt.Errorf("start %s: %w", h.name, err)
				return errors.Join(startErr, m.Shutdown(context.Background()))
			}
			m.logger.Info("component started", zap.String("component", h.name))
		}
		m.mu.Lock()
		m.started++
		m.mu.Unlock()
	}
	return nil
}

// Shutdown executes the stop hooks of started components in reverse order,
// respecting the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result error
	for i := m.started - 1; i >= 0; i-- {
		h := m.hooks[i]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			m.logger.Error("shutdown hook failed", zap.String("component", h.name), zap.Error(err))
			result = errors.Join(result, err)
			continue
		}
		m.logger.Info("component stopped", zap.String("component", h.name))
	}
	m.hooks = m.hooks[m.started:]
	m.started = 0
	return result
}

// Listen waits in the background for an OS termination signal and then invokes the provided cancel function.
func (m *Manager) Listen(cancel context.CancelFunc) {
	if cancel == nil {
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		sig := <-sigCh
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()
}
