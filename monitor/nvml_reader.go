//go:build cgo && linux && !arm && !arm64

package monitor

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"sd_backend/core"
)

// NVMLReader reads accelerator memory through libnvidia-ml. Preferred
// over the nvidia-smi fallback when the library can be loaded: no
// subprocess per sample.
type NVMLReader struct {
	mu     sync.Mutex
	inited bool
}

// NewNVMLReader initializes NVML. The caller should fall back to
// SMIReader when this returns an error.
func NewNVMLReader() (*NVMLReader, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("monitor: initializing NVML: %s", nvml.ErrorString(ret))
	}
	return &NVMLReader{inited: true}, nil
}

func (r *NVMLReader) Name() string { return "nvml" }

func (r *NVMLReader) ReadAcceleratorMemory() (core.AcceleratorMemory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: NVML reader is closed")
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: getting device 0: %s", nvml.ErrorString(ret))
	}

	info, ret := device.GetMemoryInfo_v2()
	if ret != nvml.SUCCESS {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: reading memory info: %s", nvml.ErrorString(ret))
	}

	return core.AcceleratorMemory{
		Available:      true,
		AllocatedBytes: int64(info.Used),
		ReservedBytes:  int64(info.Reserved),
		TotalBytes:     int64(info.Total),
		FreeBytes:      int64(info.Free),
	}, nil
}

// Close shuts NVML down. Idempotent.
func (r *NVMLReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return nil
	}
	r.inited = false
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("monitor: shutting down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}
