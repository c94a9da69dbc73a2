package probe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type cpuCounters struct {
	idle  uint64 // idle + iowait
	total uint64
}

func readCPUCounters(procRoot string) (cpuCounters, error) {
	path := filepath.Join(procRoot, "stat")
	f, err := os.Open(path)
	if err != nil {
		return cpuCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseCPUCounters(f)
}

func parseCPUCounters(r io.Reader) (cpuCounters, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 5 {
			return cpuCounters{}, fmt.Errorf("unexpected cpu line: %q", line)
		}
		var c cpuCounters
		for i, p := range parts[1:] {
			v, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return cpuCounters{}, fmt.Errorf("parse cpu stat %q: %w", p, err)
			}
			// Fields 3 and 4 are idle and iowait.
			if i == 3 || i == 4 {
				c.idle += v
			}
			// guest and guest_nice are already counted in user and nice.
			if i < 8 {
				c.total += v
			}
		}
		return c, nil
	}
	if err := s.Err(); err != nil {
		return cpuCounters{}, fmt.Errorf("scan stat: %w", err)
	}
	return cpuCounters{}, fmt.Errorf("cpu aggregate line not found")
}

func cpuUsage(prev, cur cpuCounters) float64 {
	if cur.total <= prev.total {
		return 0
	}
	totalDelta := float64(cur.total - prev.total)
	idleDelta := 0.0
	if cur.idle > prev.idle {
		idleDelta = float64(cur.idle - prev.idle)
	}
	usage := (totalDelta - idleDelta) / totalDelta * 100
	switch {
	case usage < 0:
		return 0
	case usage > 100:
		return 100
	}
	return usage
}

func readMemory(procRoot string) (UsageMetrics, error) {
	path := filepath.Join(procRoot, "meminfo")
	f, err := os.Open(path)
	if err != nil {
		return UsageMetrics{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseMemory(f)
}

func parseMemory(r io.Reader) (UsageMetrics, error) {
	vals := map[string]uint64{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		parts := strings.Fields(s.Text())
		if len(parts) < 2 {
			continue
		}
		v, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			continue
		}
		vals[strings.TrimSuffix(parts[0], ":")] = v * 1024
	}
	if err := s.Err(); err != nil {
		return UsageMetrics{}, fmt.Errorf("scan meminfo: %w", err)
	}
	total := vals["MemTotal"]
	if total == 0 {
		return UsageMetrics{}, fmt.Errorf("MemTotal missing")
	}
	avail, ok := vals["MemAvailable"]
	if !ok {
		avail = vals["MemFree"] + vals["Buffers"] + vals["Cached"]
	}
	if avail > total {
		avail = total
	}
	used := total - avail
	return UsageMetrics{Used: used, Total: total, Percent: Percent(used, total)}, nil
}

type netCounters struct {
	rx uint64
	tx uint64
}

func readNetCounters(procRoot string) (netCounters, error) {
	path := filepath.Join(procRoot, "net", "dev")
	f, err := os.Open(path)
	if err != nil {
		return netCounters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseNetCounters(f)
}

func parseNetCounters(r io.Reader) (netCounters, error) {
	var out netCounters
	s := bufio.NewScanner(r)
	for s.Scan() {
		iface, rest, ok := strings.Cut(s.Text(), ":")
		if !ok {
			continue
		}
		iface = strings.TrimSpace(iface)
		if iface == "" || iface == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 16 {
			continue
		}
		rx, rxErr := strconv.ParseUint(fields[0], 10, 64)
		tx, txErr := strconv.ParseUint(fields[8], 10, 64)
		if rxErr != nil || txErr != nil {
			continue
		}
		out.rx += rx
		out.tx += tx
	}
	if err := s.Err(); err != nil {
		return netCounters{}, fmt.Errorf("scan net/dev: %w", err)
	}
	return out, nil
}
