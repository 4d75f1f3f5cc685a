//go:build !cgo || !linux || arm || arm64

package monitor

import (
	"fmt"

	"sd_backend/core"
)

// NVMLReader is unavailable without cgo on Linux; callers fall back
// to the nvidia-smi reader.
type NVMLReader struct{}

func NewNVMLReader() (*NVMLReader, error) {
	return nil, fmt.Errorf("monitor: NVML is not available on this platform")
}

func (r *NVMLReader) Name() string { return "nvml" }

func (r *NVMLReader) ReadAcceleratorMemory() (core.AcceleratorMemory, error) {
	return core.AcceleratorMemory{}, fmt.Errorf("monitor: NVML is not available on this platform")
}

func (r *NVMLReader) Close() error { return nil }
