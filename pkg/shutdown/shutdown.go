// Package shutdown runs registered cleanup hooks when the process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/farmsim/pkg/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager collects shutdown hooks and runs them in reverse registration order
type Manager struct {
	hooks   []hook
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

// New creates a manager whose hooks share a deadline of timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a named hook
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once shutdown has been triggered
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until SIGINT, SIGTERM, Trigger or ctx cancellation, then runs
// the hooks. It returns ctx.Err() if ctx ended the wait.
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		m.logger.Info("Received shutdown signal")
		m.Trigger()
	case <-m.done:
		m.logger.Info("Shutdown requested")
	}
	return m.Shutdown()
}

// Shutdown runs every hook, last registered first, and joins their errors
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]
		m.logger.Debug("Running shutdown hook", logging.Fields{"hook": h.name})
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", logging.Fields{"hook": h.name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	m.logger.Info("Graceful shutdown complete")
	return errors.Join(errs...)
}

// StopHTTPServer adapts a server's Shutdown method into a hook
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// WaitForIdle polls active until it reports zero, or the hook deadline passes
func WaitForIdle(active func() int, pollInterval time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			n := active()
			if n == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%d still active: %w", n, ctx.Err())
			case <-ticker.C:
			}
		}
	}
}
