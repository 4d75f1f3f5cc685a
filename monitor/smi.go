package monitor

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"sd_backend/core"
)

const smiQueryTimeout = 5 * time.Second

// SMIReader reads accelerator memory by executing nvidia-smi. It is
// the fallback when NVML is not linkable; one subprocess per sample is
// acceptable at the monitor's sampling rates.
type SMIReader struct {
	// Path is the nvidia-smi executable, "nvidia-smi" resolves via PATH
	Path string
}

// NewSMIReader creates a reader for the given nvidia-smi path.
func NewSMIReader(path string) *SMIReader {
	if path == "" {
		path = "nvidia-smi"
	}
	return &SMIReader{Path: path}
}

func (r *SMIReader) Name() string { return "nvidia-smi" }

func (r *SMIReader) ReadAcceleratorMemory() (core.AcceleratorMemory, error) {
	ctx, cancel := context.WithTimeout(context.Background(), smiQueryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Path,
		"--query-gpu=memory.used,memory.reserved,memory.total,memory.free",
		"--format=csv,noheader,nounits")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: nvidia-smi failed: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}

	return parseSMIOutput(stdout.String())
}

// parseSMIOutput parses one CSV record of nvidia-smi memory counters,
// reported in MiB. This is a pure function with no side effects.
func parseSMIOutput(output string) (core.AcceleratorMemory, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: empty nvidia-smi output")
	}

	record, err := csv.NewReader(strings.NewReader(output)).Read()
	if err != nil {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: parsing nvidia-smi CSV: %w", err)
	}
	if len(record) < 4 {
		return core.AcceleratorMemory{}, fmt.Errorf("monitor: unexpected field count: got %d, expected 4", len(record))
	}

	fields := make([]int64, 4)
	names := []string{"memory.used", "memory.reserved", "memory.total", "memory.free"}
	for i := range fields {
		raw := strings.TrimSpace(record[i])
		// Older drivers report "[N/A]" for memory.reserved
		if strings.HasPrefix(raw, "[") {
			fields[i] = 0
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return core.AcceleratorMemory{}, fmt.Errorf("monitor: parsing %s: %w", names[i], err)
		}
		fields[i] = int64(v * float64(core.BytesPerMB))
	}

	return core.AcceleratorMemory{
		Available:      true,
		AllocatedBytes: fields[0],
		ReservedBytes:  fields[1],
		TotalBytes:     fields[2],
		FreeBytes:      fields[3],
	}, nil
}
