package core

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestAcceleratorMemoryLogMarshal(t *testing.T) {
	mem := AcceleratorMemory{
		Available:         true,
		AllocatedBytes:    2 * BytesPerGB,
		ReservedBytes:     3 * BytesPerGB,
		TotalBytes:        8 * BytesPerGB,
		FreeBytes:         5 * BytesPerGB,
		MaxAllocatedBytes: 4 * BytesPerGB,
	}

	enc := zapcore.NewMapObjectEncoder()
	if err := mem.MarshalLogObject(enc); err != nil {
		t.Fatalf("MarshalLogObject() error = %v", err)
	}

	if enc.Fields["available"] != true {
		t.Error("available field missing or false")
	}
	if enc.Fields["allocated"] != "2.00 GB" {
		t.Errorf("allocated = %v, want 2.00 GB", enc.Fields["allocated"])
	}
	if enc.Fields["max_allocated"] != "4.00 GB" {
		t.Errorf("max_allocated = %v, want 4.00 GB", enc.Fields["max_allocated"])
	}
}

func TestMemorySnapshotLogMarshal(t *testing.T) {
	snapshot := MemorySnapshot{
		Accelerator: AcceleratorMemory{Available: true, TotalBytes: BytesPerGB},
		Host:        HostMemory{TotalBytes: 16 * BytesPerGB, UsedPercent: 42.5},
	}

	enc := zapcore.NewMapObjectEncoder()
	if err := snapshot.MarshalLogObject(enc); err != nil {
		t.Fatalf("MarshalLogObject() error = %v", err)
	}

	accelerator, ok := enc.Fields["accelerator"].(map[string]any)
	if !ok {
		t.Fatalf("accelerator field is %T, want nested object", enc.Fields["accelerator"])
	}
	if accelerator["total"] != "1.00 GB" {
		t.Errorf("accelerator total = %v, want 1.00 GB", accelerator["total"])
	}

	host, ok := enc.Fields["host"].(map[string]any)
	if !ok {
		t.Fatalf("host field is %T, want nested object", enc.Fields["host"])
	}
	if host["used_percent"] != 42.5 {
		t.Errorf("host used_percent = %v, want 42.5", host["used_percent"])
	}
}
