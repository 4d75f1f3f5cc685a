package core

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// AcceleratorMemory holds a point-in-time reading of accelerator (GPU)
// memory counters in bytes. Implements zapcore.ObjectMarshaler for
// structured logging.
type AcceleratorMemory struct {
	// Available indicates whether an accelerator was present at capture
	// time. When false, all counters are zero.
	Available bool `json:"available"`
	// AllocatedBytes is the memory currently in use by processes
	AllocatedBytes int64 `json:"allocated_bytes"`
	// ReservedBytes is memory held by the runtime but not allocated
	ReservedBytes int64 `json:"reserved_bytes"`
	// TotalBytes is the total device memory
	TotalBytes int64 `json:"total_bytes"`
	// FreeBytes is the unreserved device memory
	FreeBytes int64 `json:"free_bytes"`
	// MaxAllocatedBytes is the process-lifetime high-water mark of
	// AllocatedBytes, tracked by the resource monitor across samples
	MaxAllocatedBytes int64 `json:"max_allocated_bytes"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a AcceleratorMemory) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddBool("available", a.Available)
	enc.AddString("allocated", FormatBytes(a.AllocatedBytes))
	enc.AddString("reserved", FormatBytes(a.ReservedBytes))
	enc.AddString("total", FormatBytes(a.TotalBytes))
	enc.AddString("free", FormatBytes(a.FreeBytes))
	enc.AddString("max_allocated", FormatBytes(a.MaxAllocatedBytes))
	return nil
}

// HostMemory holds a point-in-time reading of host RAM counters.
type HostMemory struct {
	// TotalBytes is the total physical memory
	TotalBytes int64 `json:"total_bytes"`
	// AvailableBytes is memory available for new allocations
	AvailableBytes int64 `json:"available_bytes"`
	// UsedBytes is memory in use
	UsedBytes int64 `json:"used_bytes"`
	// UsedPercent is UsedBytes as a percentage of TotalBytes (0-100)
	UsedPercent float64 `json:"used_percent"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (h HostMemory) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("total", FormatBytes(h.TotalBytes))
	enc.AddString("available", FormatBytes(h.AvailableBytes))
	enc.AddString("used", FormatBytes(h.UsedBytes))
	enc.AddFloat64("used_percent", h.UsedPercent)
	return nil
}

// MemorySnapshot is an immutable point-in-time reading of accelerator and
// host memory. Snapshots are used for logging and response enrichment
// only; they have no identity beyond their capture timestamp.
type MemorySnapshot struct {
	Accelerator AcceleratorMemory `json:"accelerator"`
	Host        HostMemory        `json:"host"`
	CapturedAt  time.Time         `json:"captured_at"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s MemorySnapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("accelerator", s.Accelerator); err != nil {
		return err
	}
	if err := enc.AddObject("host", s.Host); err != nil {
		return err
	}
	enc.AddTime("captured_at", s.CapturedAt)
	return nil
}

// GenerationRecord is a persisted audit row for a completed (or failed)
// generation request. Written asynchronously by the history store; never
// read back on the request path.
type GenerationRecord struct {
	// ID is the auto-incremented primary key
	ID int64 `json:"id"`
	// CorrelationID links the record to request logs
	CorrelationID string `json:"correlation_id"`
	// Operation is the endpoint kind: "generate", "inpaint", "erase", "sketch"
	Operation string `json:"operation"`
	// Prompt is the final composed prompt sent to the pipeline
	Prompt string `json:"prompt"`
	// NegativePrompt is the final negative prompt
	NegativePrompt string `json:"negative_prompt"`
	// Steps is the resolved inference step count
	Steps int `json:"steps"`
	// GuidanceScale is the resolved classifier-free guidance scale
	GuidanceScale float64 `json:"guidance_scale"`
	// Strength is the image-to-image blending factor (0 for text-to-image)
	Strength float64 `json:"strength"`
	// Width and Height are the resolved output dimensions
	Width  int `json:"width"`
	Height int `json:"height"`
	// Seed is the seed actually used
	Seed int64 `json:"seed"`
	// DurationMS is the wall-clock pipeline time in milliseconds
	DurationMS int64 `json:"duration_ms"`
	// Status is "success" or "error"
	Status string `json:"status"`
	// ErrorMessage holds the failure detail when Status is "error"
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt is when the record was written
	CreatedAt time.Time `json:"created_at"`
}

// Record status values
const (
	RecordStatusSuccess = "success"
	RecordStatusError   = "error"
)
