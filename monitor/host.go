package monitor

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"sd_backend/core"
)

// HostReader reads system memory state. The interface mirrors
// AcceleratorReader so tests can substitute fixed values.
type HostReader interface {
	ReadHostMemory() (core.HostMemory, error)
}

// GopsutilHostReader reads host memory through gopsutil.
type GopsutilHostReader struct{}

func (GopsutilHostReader) ReadHostMemory() (core.HostMemory, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return core.HostMemory{}, fmt.Errorf("monitor: reading host memory: %w", err)
	}
	return core.HostMemory{
		TotalBytes:     int64(vm.Total),
		AvailableBytes: int64(vm.Available),
		UsedBytes:      int64(vm.Used),
		UsedPercent:    vm.UsedPercent,
	}, nil
}

// MockHostReader returns fixed host memory values for tests.
type MockHostReader struct {
	Memory core.HostMemory
	Err    error
}

func (m MockHostReader) ReadHostMemory() (core.HostMemory, error) {
	if m.Err != nil {
		return core.HostMemory{}, m.Err
	}
	return m.Memory, nil
}
