package logging

import (
	"time"

	"go.uber.org/zap"

	"sd_backend/core"
)

// Field constructors for the request lifecycle log entries. Keeping
// the key names in one place keeps the file output queryable.

const (
	KeyCorrelationID = "correlation_id"
	KeyOperation     = "operation"
	KeyMethod        = "method"
	KeyPath          = "path"
	KeyStatus        = "status"
	KeyDuration      = "duration"
	KeyMemoryBefore  = "memory_before"
	KeyMemoryAfter   = "memory_after"
	KeyMemoryDelta   = "memory_delta_bytes"
)

// CorrelationID tags an entry with the per-request identifier.
func CorrelationID(id string) zap.Field {
	return zap.String(KeyCorrelationID, id)
}

// Operation tags an entry with the generation operation name.
func Operation(name string) zap.Field {
	return zap.String(KeyOperation, name)
}

// RequestFields returns the standard fields for a request entry.
func RequestFields(method, path string) []zap.Field {
	return []zap.Field{
		zap.String(KeyMethod, method),
		zap.String(KeyPath, path),
	}
}

// CompletionFields returns the fields for a request completion entry.
func CompletionFields(status int, duration time.Duration) []zap.Field {
	return []zap.Field{
		zap.Int(KeyStatus, status),
		zap.Duration(KeyDuration, duration),
	}
}

// MemoryBefore records the snapshot captured before the handler ran.
func MemoryBefore(snapshot core.MemorySnapshot) zap.Field {
	return zap.Object(KeyMemoryBefore, snapshot)
}

// MemoryAfter records the snapshot captured after the handler ran.
func MemoryAfter(snapshot core.MemorySnapshot) zap.Field {
	return zap.Object(KeyMemoryAfter, snapshot)
}

// MemoryDelta records the change in allocated accelerator memory
// across a request. Negative values mean memory was released.
func MemoryDelta(before, after core.MemorySnapshot) zap.Field {
	return zap.Int64(KeyMemoryDelta,
		after.Accelerator.AllocatedBytes-before.Accelerator.AllocatedBytes)
}
