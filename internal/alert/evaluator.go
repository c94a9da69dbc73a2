// Package alert turns metric snapshots into threshold-crossing notifications.
package alert

import (
	"fmt"
	"sync/atomic"

	"pewdash/internal/history"
	"pewdash/internal/notifylog"
)

const DefaultThreshold = 90.0

// Config sets per-dimension thresholds in percent. Zero selects DefaultThreshold.
type Config struct {
	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64

	// NotifyRecovery also emits an info notification on the downward crossing.
	NotifyRecovery bool
}

func (c Config) withDefaults() Config {
	if c.CPUThreshold <= 0 {
		c.CPUThreshold = DefaultThreshold
	}
	if c.MemoryThreshold <= 0 {
		c.MemoryThreshold = DefaultThreshold
	}
	if c.DiskThreshold <= 0 {
		c.DiskThreshold = DefaultThreshold
	}
	return c
}

type dimension struct {
	key       string
	label     string
	kind      notifylog.Kind
	threshold func(Config) float64
	value     func(history.Point) float64
}

var dimensions = []dimension{
	{
		key: "cpu", label: "CPU", kind: notifylog.KindWarning,
		threshold: func(c Config) float64 { return c.CPUThreshold },
		value:     func(p history.Point) float64 { return p.CPUPercent },
	},
	{
		key: "memory", label: "Memory", kind: notifylog.KindWarning,
		threshold: func(c Config) float64 { return c.MemoryThreshold },
		value:     func(p history.Point) float64 { return p.MemoryPercent },
	},
	{
		key: "disk", label: "Disk", kind: notifylog.KindError,
		threshold: func(c Config) float64 { return c.DiskThreshold },
		value:     func(p history.Point) float64 { return p.DiskPercent },
	},
}

// Evaluator is stateless apart from its config; the previous point comes from the caller.
type Evaluator struct {
	cfg atomic.Pointer[Config]
}

func New(cfg Config) *Evaluator {
	e := &Evaluator{}
	e.Apply(cfg)
	return e
}

// Apply swaps the thresholds used by subsequent evaluations.
func (e *Evaluator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

func (e *Evaluator) Config() Config { return *e.cfg.Load() }

// Evaluate fires when a value rises above its threshold and prev was at or below it
// (or absent). Staying above never fires again.
func (e *Evaluator) Evaluate(prev *history.Point, cur history.Point) []notifylog.Draft {
	cfg := *e.cfg.Load()
	var out []notifylog.Draft
	for _, d := range dimensions {
		t := d.threshold(cfg)
		v := d.value(cur)
		switch {
		case v > t && (prev == nil || d.value(*prev) <= t):
			out = append(out, notifylog.Draft{
				Kind:     d.kind,
				Title:    fmt.Sprintf("High %s Usage", d.label),
				Message:  fmt.Sprintf("%s usage is at %.1f%% (threshold %.0f%%)", d.label, v, t),
				EntityID: "host:" + d.key,
			})
		case cfg.NotifyRecovery && prev != nil && v <= t && d.value(*prev) > t:
			out = append(out, notifylog.Draft{
				Kind:     notifylog.KindInfo,
				Title:    fmt.Sprintf("%s Usage Normal", d.label),
				Message:  fmt.Sprintf("%s usage is back to %.1f%%", d.label, v),
				EntityID: "host:" + d.key,
			})
		}
	}
	return out
}
