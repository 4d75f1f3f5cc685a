// Package monitor samples accelerator and host memory state.
//
// The ResourceMonitor organism composes:
//   - AcceleratorReader implementations (NVML, nvidia-smi, mock)
//   - HostReader for system memory via gopsutil
//   - a circular history buffer of snapshots
//
// One monitor instance exists per process. Snapshots feed the
// gpu-status endpoint and the request lifecycle logging.
package monitor

import (
	"sync"

	"sd_backend/core"
)

// AcceleratorReader reads current accelerator memory state. This
// abstraction allows mock implementations during testing and swapping
// NVML for the nvidia-smi fallback.
type AcceleratorReader interface {
	// ReadAcceleratorMemory reads the current accelerator memory
	// counters. Returns an error if no accelerator is usable.
	ReadAcceleratorMemory() (core.AcceleratorMemory, error)

	// Name identifies the reader implementation for logs.
	Name() string
}

// MockAcceleratorReader is a configurable AcceleratorReader for tests.
type MockAcceleratorReader struct {
	mu     sync.Mutex
	memory core.AcceleratorMemory
	err    error
	calls  int
}

// NewMockAcceleratorReader creates a mock returning the given memory state.
func NewMockAcceleratorReader(memory core.AcceleratorMemory) *MockAcceleratorReader {
	return &MockAcceleratorReader{memory: memory}
}

func (m *MockAcceleratorReader) ReadAcceleratorMemory() (core.AcceleratorMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return core.AcceleratorMemory{}, m.err
	}
	return m.memory, nil
}

func (m *MockAcceleratorReader) Name() string { return "mock" }

// SetMemory updates the memory state returned by subsequent reads.
func (m *MockAcceleratorReader) SetMemory(memory core.AcceleratorMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory = memory
}

// SetError makes subsequent reads fail with err.
func (m *MockAcceleratorReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of reads performed.
func (m *MockAcceleratorReader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
