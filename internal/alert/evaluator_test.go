package alert

import (
	"testing"

	"pewdash/internal/history"
	"pewdash/internal/notifylog"
)

func pt(cpu, mem, disk float64) history.Point {
	return history.Point{CPUPercent: cpu, MemoryPercent: mem, DiskPercent: disk}
}

func TestEvaluateEdgeTriggered(t *testing.T) {
	t.Parallel()
	e := New(Config{})

	p80 := pt(80, 10, 10)
	if got := e.Evaluate(nil, p80); len(got) != 0 {
		t.Fatalf("80%% with no prev fired %v", got)
	}
	p95 := pt(95, 10, 10)
	got := e.Evaluate(&p80, p95)
	if len(got) != 1 || got[0].Title != "High CPU Usage" || got[0].Kind != notifylog.KindWarning {
		t.Fatalf("80->95 = %+v, want one High CPU warning", got)
	}
	if got := e.Evaluate(&p95, pt(96, 10, 10)); len(got) != 0 {
		t.Fatalf("95->96 fired %v", got)
	}
}

func TestEvaluateTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		prev   *history.Point
		cur    history.Point
		titles []string
	}{
		{"first sample above", nil, pt(91, 10, 10), []string{"High CPU Usage"}},
		{"exactly threshold", nil, pt(90, 90, 90), nil},
		{"from exactly threshold", &history.Point{CPUPercent: 90}, pt(90.1, 0, 0), []string{"High CPU Usage"}},
		{"all three", &history.Point{}, pt(99, 99, 99), []string{"High CPU Usage", "High Memory Usage", "High Disk Usage"}},
		{"falling is silent", &history.Point{CPUPercent: 99}, pt(10, 0, 0), nil},
	}
	e := New(Config{})
	for _, tc := range cases {
		got := e.Evaluate(tc.prev, tc.cur)
		if len(got) != len(tc.titles) {
			t.Fatalf("%s: got %d drafts %+v, want %v", tc.name, len(got), got, tc.titles)
		}
		for i, d := range got {
			if d.Title != tc.titles[i] {
				t.Fatalf("%s: draft %d title %q, want %q", tc.name, i, d.Title, tc.titles[i])
			}
		}
	}
}

func TestSeverityPerDimension(t *testing.T) {
	t.Parallel()
	got := New(Config{}).Evaluate(nil, pt(95, 95, 95))
	want := map[string]notifylog.Kind{
		"host:cpu":    notifylog.KindWarning,
		"host:memory": notifylog.KindWarning,
		"host:disk":   notifylog.KindError,
	}
	for _, d := range got {
		if want[d.EntityID] != d.Kind {
			t.Fatalf("%s kind = %s, want %s", d.EntityID, d.Kind, want[d.EntityID])
		}
	}
}

func TestRecoveryOptIn(t *testing.T) {
	t.Parallel()
	prev := pt(95, 10, 10)
	e := New(Config{NotifyRecovery: true})
	got := e.Evaluate(&prev, pt(50, 10, 10))
	if len(got) != 1 || got[0].Title != "CPU Usage Normal" || got[0].Kind != notifylog.KindInfo {
		t.Fatalf("recovery = %+v", got)
	}

	e.Apply(Config{CPUThreshold: 40})
	if got := e.Evaluate(&prev, pt(50, 10, 10)); len(got) != 0 {
		t.Fatalf("recovery disabled but got %+v", got)
	}
	if c := e.Config(); c.CPUThreshold != 40 || c.DiskThreshold != DefaultThreshold {
		t.Fatalf("config = %+v", c)
	}
}
