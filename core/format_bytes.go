package core

import "fmt"

// Byte size constants using binary units (1024 base).
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * BytesPerKB
	BytesPerGB int64 = 1024 * BytesPerMB
	BytesPerTB int64 = 1024 * BytesPerGB
)

// FormatBytes converts a byte count to a human-readable string.
// Uses binary units but displays as KB/MB/GB/TB for familiarity.
// Negative values are treated as zero.
// This is a pure function with no side effects.
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	switch {
	case bytes >= BytesPerTB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(BytesPerTB))
	case bytes >= BytesPerGB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(BytesPerGB))
	case bytes >= BytesPerMB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(BytesPerMB))
	case bytes >= BytesPerKB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(BytesPerKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// BytesToGB converts a byte count to gigabytes rounded to two decimals,
// matching the unit used in memory status responses.
func BytesToGB(bytes int64) float64 {
	if bytes < 0 {
		bytes = 0
	}
	gb := float64(bytes) / float64(BytesPerGB)
	return float64(int64(gb*100+0.5)) / 100
}
