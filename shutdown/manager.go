package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sd_backend/core"
)

// Manager coordinates graceful shutdown. It composes the
// OperationTracker, the cleanup Registry, and the SignalCounter behind
// one interface: the composition root registers handlers, Start hooks
// the OS signals, and Shutdown drains requests then runs cleanup.
type Manager struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	started  bool
	shutdown bool
	exitCode int

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *Registry
	signals  *SignalCounter
	sigChan  chan os.Signal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the default 30 second shutdown timeout.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewManager creates a shutdown manager. A second OS signal during
// shutdown exits immediately with exit code 1.
func NewManager(logger *zap.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:   logger,
		timeout:  30 * time.Second,
		exitCode: core.ExitCodeSuccess,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewOperationTracker(),
		registry: NewRegistry(),
		sigChan:  make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal received, forcing immediate exit")
		os.Exit(core.ExitCodeError)
	})

	return m
}

// Context is cancelled when shutdown begins. Long-running components
// watch it to stop accepting work.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup handler. Lower priorities run first; see the
// Registry conventions.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("shutdown handler registered",
		zap.String("name", name),
		zap.Int("priority", priority))
}

// Start hooks SIGINT and SIGTERM. The first signal cancels the
// manager context; the second forces exit. Safe to call twice.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range m.sigChan {
			if m.signals.Increment() == 1 {
				m.mu.Lock()
				switch sig {
				case syscall.SIGTERM:
					m.exitCode = core.ExitCodeSIGTERM
				default:
					m.exitCode = core.ExitCodeSIGINT
				}
				m.mu.Unlock()

				m.logger.Info("shutdown signal received",
					zap.String("signal", sig.String()))
				m.cancel()
			}
		}
	}()
}

// Wait blocks until shutdown is initiated.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// ExitCode returns the code the process should exit with: 130 for
// SIGINT, 143 for SIGTERM, 0 for a programmatic shutdown.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode
}

// TrackOperation runs fn as a tracked in-flight operation. Returns
// ErrTrackerClosed without running fn once shutdown has begun.
func (m *Manager) TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.tracker.Start() {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the in-flight operation count.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown || m.tracker.IsClosed()
}

// Shutdown drains in-flight operations, then runs the cleanup
// registry with whatever time remains of the configured timeout.
// Idempotent; later calls return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	start := time.Now()
	m.logger.Info("graceful shutdown starting",
		zap.Duration("timeout", m.timeout),
		zap.Int("handlers", m.registry.Count()))

	m.tracker.Close()
	if active := m.tracker.ActiveCount(); active > 0 {
		m.logger.Info("draining in-flight requests", zap.Int64("active", active))
	}
	if err := m.tracker.Wait(m.timeout); err != nil {
		m.logger.Warn("drain timed out",
			zap.Duration("waited", time.Since(start)),
			zap.Int64("remaining", m.tracker.ActiveCount()))
	}

	remaining := m.timeout - time.Since(start)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	m.logger.Info("running cleanup handlers", zap.Strings("handlers", m.registry.Names()))
	errs := m.registry.Shutdown(ctx)
	for _, err := range errs {
		m.logger.Error("cleanup handler failed", zap.Error(err))
	}

	signal.Stop(m.sigChan)
	close(m.sigChan)

	if len(errs) > 0 {
		m.logger.Error("shutdown completed with errors",
			zap.Duration("duration", time.Since(start)),
			zap.Int("errors", len(errs)))
		return fmt.Errorf("shutdown had %d errors", len(errs))
	}

	m.logger.Info("graceful shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
