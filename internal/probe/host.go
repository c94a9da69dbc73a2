package probe

import (
	"context"
	"sync"
	"time"
)

// HostConfig configures the host metrics probe.
type HostConfig struct {
	ProcRoot string // default /proc
	DiskPath string // mount point sampled for disk usage; default /
}

// HostProbe samples CPU, memory, disk and network from procfs.
// CPU and network are rates, so the previous counters are kept on the instance.
type HostProbe struct {
	procRoot string
	diskPath string
	statDisk func(path string) (UsageMetrics, error)
	now      func() time.Time

	mu        sync.Mutex
	prevCPU   cpuCounters
	prevNet   netCounters
	prevNetAt time.Time
}

func NewHostProbe(cfg HostConfig) *HostProbe {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &HostProbe{
		procRoot: cfg.ProcRoot,
		diskPath: cfg.DiskPath,
		statDisk: statDisk,
		now:      time.Now,
	}
}

// Collect takes one sample. The first network rate is zero; the first CPU value
// is the average since boot.
func (p *HostProbe) Collect(ctx context.Context) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}
	cpu, err := readCPUCounters(p.procRoot)
	if err != nil {
		return Metrics{}, err
	}
	mem, err := readMemory(p.procRoot)
	if err != nil {
		return Metrics{}, err
	}
	disk, err := p.statDisk(p.diskPath)
	if err != nil {
		return Metrics{}, err
	}
	nc, err := readNetCounters(p.procRoot)
	if err != nil {
		return Metrics{}, err
	}
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	m := Metrics{
		CPU:         cpuUsage(p.prevCPU, cpu),
		Memory:      mem,
		Disk:        disk,
		CollectedAt: now,
	}
	if !p.prevNetAt.IsZero() {
		if secs := now.Sub(p.prevNetAt).Seconds(); secs > 0 {
			m.Network.Up = counterRate(p.prevNet.tx, nc.tx, secs)
			m.Network.Down = counterRate(p.prevNet.rx, nc.rx, secs)
		}
	}
	p.prevCPU, p.prevNet, p.prevNetAt = cpu, nc, now
	return m, nil
}

// counterRate treats a shrinking counter (reset or wrap) as zero traffic.
func counterRate(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / secs
}
