package probe

import "time"

// Metrics is one host resource sample as produced by a metrics probe.
type Metrics struct {
	CPU     float64        `json:"cpu"`
	Memory  UsageMetrics   `json:"memory"`
	Disk    UsageMetrics   `json:"disk"`
	Network NetworkMetrics `json:"network"`

	// CollectedAt is set by the probe; ingest falls back to the ingest time when zero.
	CollectedAt time.Time `json:"collectedAt,omitempty"`
}

// UsageMetrics describes a used/total resource with a precomputed percentage.
type UsageMetrics struct {
	Used    uint64  `json:"used"`
	Total   uint64  `json:"total"`
	Percent float64 `json:"percent"`
}

// NetworkMetrics carries throughput in bytes per second, summed over non-loopback interfaces.
type NetworkMetrics struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

// Percent returns used/total*100, or 0 when total is 0.
func Percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// diskUsage matches df: blocks reserved for root count neither as used nor as
// available, so Percent is used/(used+avail) while Total stays the raw size.
func diskUsage(bsize, blocks, bfree, bavail uint64) UsageMetrics {
	used := (blocks - bfree) * bsize
	return UsageMetrics{
		Used:    used,
		Total:   blocks * bsize,
		Percent: Percent(used, used+bavail*bsize),
	}
}
