// Package webapi exposes the diffusion service over HTTP. It owns the
// request lifecycle (correlation ids, memory snapshots, cache cleanup),
// translates request errors into status codes, and keeps all transport
// concerns out of the diffusion and monitor packages.
package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sd_backend/core"
	"sd_backend/diffusion"
)

// errorResponse is the body for every non-2xx answer.
type errorResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// generationResponse is the body for a successful generation call.
type generationResponse struct {
	Success     bool                 `json:"success"`
	ResultImage string               `json:"result_image"`
	Prompt      string               `json:"prompt"`
	Operation   string               `json:"operation"`
	Parameters  diffusion.Parameters `json:"parameters"`
	GPUMemory   gpuMemoryView        `json:"gpu_memory"`
	Timestamp   string               `json:"timestamp"`
}

// gpuMemoryView is a gigabyte-denominated view of a memory snapshot,
// kept separate from core.MemorySnapshot so the wire format can stay
// stable while the internal type grows fields.
type gpuMemoryView struct {
	Available      bool    `json:"available"`
	AllocatedGB    float64 `json:"allocated_gb"`
	ReservedGB     float64 `json:"reserved_gb"`
	TotalGB        float64 `json:"total_gb"`
	FreeGB         float64 `json:"free_gb"`
	MaxAllocatedGB float64 `json:"max_allocated_gb"`
	HostUsedPct    float64 `json:"host_used_percent"`
}

func newGPUMemoryView(snapshot core.MemorySnapshot) gpuMemoryView {
	acc := snapshot.Accelerator
	return gpuMemoryView{
		Available:      acc.Available,
		AllocatedGB:    core.BytesToGB(acc.AllocatedBytes),
		ReservedGB:     core.BytesToGB(acc.ReservedBytes),
		TotalGB:        core.BytesToGB(acc.TotalBytes),
		FreeGB:         core.BytesToGB(acc.FreeBytes),
		MaxAllocatedGB: core.BytesToGB(acc.MaxAllocatedBytes),
		HostUsedPct:    snapshot.Host.UsedPercent,
	}
}

// writeJSON serializes v with the given status. Encoding failures are
// logged and otherwise dropped; headers are already on the wire.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encoding failed", zap.Error(err))
	}
}

// statusForError maps the request error taxonomy onto HTTP status codes.
// Anything unclassified is treated as an internal failure.
func statusForError(err error) int {
	switch core.KindOf(err) {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// detailForError extracts the caller-facing message. The wrapped cause
// is included so a failed generation keeps its diagnostic text all the
// way to the client.
func detailForError(err error) string {
	var reqErr *core.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Error()
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	writeJSON(w, logger, statusForError(err), errorResponse{
		Success: false,
		Detail:  detailForError(err),
	})
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
