package monitor

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"sd_backend/core"
)

// Config configures the ResourceMonitor.
type Config struct {
	// Interval is the background sampling period
	Interval time.Duration

	// HistorySize is the number of snapshots retained
	// (360 = 1 hour at 10s intervals)
	HistorySize int
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		HistorySize: 360,
	}
}

// ResourceMonitor samples accelerator and host memory on demand and on
// a background ticker. It owns the process-local allocation high-water
// mark: accelerator readers report instantaneous state, the monitor
// folds it into MaxAllocatedBytes across the process lifetime.
type ResourceMonitor struct {
	config      Config
	accelerator AcceleratorReader
	host        HostReader
	logger      *zap.Logger

	// releaseHook asks the inference backend to drop allocator caches
	releaseHook func()

	mu           sync.RWMutex
	current      core.MemorySnapshot
	maxAllocated int64
	history      []core.MemorySnapshot
	histHead     int
	histSize     int

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a ResourceMonitor. releaseHook may be nil; it is invoked
// from ClearCaches in addition to a Go GC cycle.
func New(config Config, accelerator AcceleratorReader, host HostReader, releaseHook func(), logger *zap.Logger) *ResourceMonitor {
	if config.Interval < time.Second {
		config.Interval = 10 * time.Second
	}
	if config.HistorySize < 1 {
		config.HistorySize = 360
	}
	if host == nil {
		host = GopsutilHostReader{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceMonitor{
		config:      config,
		accelerator: accelerator,
		host:        host,
		logger:      logger,
		releaseHook: releaseHook,
		history:     make([]core.MemorySnapshot, config.HistorySize),
	}
}

// SelectAcceleratorReader picks the best available reader: NVML when
// it initializes, the nvidia-smi subprocess fallback otherwise.
func SelectAcceleratorReader(nvidiaSMIPath string, logger *zap.Logger) AcceleratorReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reader, err := NewNVMLReader(); err == nil {
		logger.Info("accelerator reader selected", zap.String("reader", reader.Name()))
		return reader
	} else {
		logger.Info("NVML unavailable, falling back to nvidia-smi", zap.Error(err))
	}
	return NewSMIReader(nvidiaSMIPath)
}

// Sample captures one snapshot. An accelerator read failure degrades
// the snapshot (Available=false) instead of failing it; host memory is
// still captured. The snapshot is recorded in history and folded into
// the high-water mark.
func (m *ResourceMonitor) Sample() core.MemorySnapshot {
	var accel core.AcceleratorMemory
	if m.accelerator != nil {
		read, err := m.accelerator.ReadAcceleratorMemory()
		if err != nil {
			m.logger.Debug("accelerator read failed", zap.Error(err))
			accel = core.AcceleratorMemory{Available: false}
		} else {
			accel = read
		}
	}

	host, err := m.host.ReadHostMemory()
	if err != nil {
		m.logger.Warn("host memory read failed", zap.Error(err))
	}

	m.mu.Lock()
	if accel.Available && accel.AllocatedBytes > m.maxAllocated {
		m.maxAllocated = accel.AllocatedBytes
	}
	accel.MaxAllocatedBytes = m.maxAllocated

	snapshot := core.MemorySnapshot{
		Accelerator: accel,
		Host:        host,
		CapturedAt:  time.Now().UTC(),
	}
	m.current = snapshot

	m.history[m.histHead] = snapshot
	m.histHead = (m.histHead + 1) % m.config.HistorySize
	if m.histSize < m.config.HistorySize {
		m.histSize++
	}
	m.mu.Unlock()

	return snapshot
}

// Current returns the most recent snapshot without sampling.
func (m *ResourceMonitor) Current() core.MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// MaxAllocated returns the process-lifetime allocation high-water mark.
func (m *ResourceMonitor) MaxAllocated() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxAllocated
}

// History returns up to limit snapshots, oldest first.
func (m *ResourceMonitor) History(limit int) []core.MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || m.histSize == 0 {
		return []core.MemorySnapshot{}
	}
	if limit > m.histSize {
		limit = m.histSize
	}

	out := make([]core.MemorySnapshot, limit)
	for i := 0; i < limit; i++ {
		idx := (m.histHead - limit + i + m.config.HistorySize) % m.config.HistorySize
		out[i] = m.history[idx]
	}
	return out
}

// StartBackgroundSampling launches the periodic sampling goroutine.
// At most one loop runs per monitor; a second call warns and no-ops.
func (m *ResourceMonitor) StartBackgroundSampling() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("background sampling already running")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	m.logger.Info("background sampling started", zap.Duration("interval", m.config.Interval))

	go func() {
		defer close(doneCh)

		m.sampleAndLog()

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.sampleAndLog()
			}
		}
	}()
}

func (m *ResourceMonitor) sampleAndLog() {
	snapshot := m.Sample()
	m.logger.Info("memory snapshot", zap.Object("memory", snapshot))
}

// StopBackgroundSampling stops the sampling loop and waits for it to
// exit. Safe to call when the loop never started, and idempotent.
func (m *ResourceMonitor) StopBackgroundSampling() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.logger.Info("background sampling stopped")
}

// ClearCaches asks the inference backend to release cached allocator
// memory and runs a Go GC cycle. Best effort; never fails.
func (m *ResourceMonitor) ClearCaches() {
	if m.releaseHook != nil {
		m.releaseHook()
	}
	runtime.GC()
}
