package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "http": {"addr": ":9090"},
  "storage": {"driver": "sqlite", "path": "/tmp/dash.sqlite"},
  "cache": {"metrics_window": "45s"},
  "history": {"capacity": 100, "min_interval": "1m"},
  "notifications": {},
  "alerts": {"cpu_threshold": 80, "notify_recovery": true},
  "probes": {
    "host": {"schedule": "30s"},
    "services": {"schedule": "every:1m", "targets": [
      {"id": "web", "type": "http", "url": "https://example.com/healthz", "degraded_after": "2s"},
      {"id": "db", "type": "systemd", "unit": "postgresql"}
    ]}
  }
}`

func TestDecodeJSON(t *testing.T) {
	cfg, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Alerts.CPUThreshold != 80 || !cfg.Alerts.NotifyRecovery {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Probes.Services.Targets) != 2 || cfg.Probes.Services.Targets[1].Unit != "postgresql" {
		t.Fatalf("targets = %+v", cfg.Probes.Services.Targets)
	}
	if !cfg.Probes.Host.IsEnabled() {
		t.Fatal("host probe should default to enabled")
	}
}

func TestDecodeYAML(t *testing.T) {
	src := `
logging:
  level: info
  console: true
http:
  addr: ":8080"
storage:
  driver: memory
alerts:
  disk_threshold: 95
probes:
  host:
    enabled: false
  services:
    targets:
      - id: api
        type: http
        url: http://127.0.0.1:3000/
`
	cfg, err := Decode("config.yaml", []byte(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Alerts.DiskThreshold != 95 || cfg.Probes.Host.IsEnabled() {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Probes.Services.Targets[0].URL != "http://127.0.0.1:3000/" {
		t.Fatalf("target url = %q", cfg.Probes.Services.Targets[0].URL)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"http": {"adr": ":1"}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("err = %v, want trailing data error", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: "file"},
		Alerts:  AlertsConfig{CPUThreshold: 120},
		Probes: ProbesConfig{Services: ServiceProbeConfig{
			Schedule: "sometimes",
			Targets: []ServiceTarget{
				{ID: "a", Type: "http", URL: "not-a-url"},
				{ID: "a", Type: "systemd"},
				{ID: "b", Type: "ping"},
			},
		}},
		Forward: &ForwardConfig{Enabled: true, MinKind: "fatal"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"storage.path",
		"alerts.cpu_threshold",
		"probes.services.schedule",
		"targets[0].url",
		"duplicated",
		"targets[1].unit",
		"unknown type \"ping\"",
		"forward.min_kind",
		"forward.telegram.token",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty = (%v, %v), want 5s", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("250ms = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected negative duration error")
	}
}

func TestSummarizeChange(t *testing.T) {
	a, _ := Decode("c.json", []byte(sampleJSON))
	b, _ := Decode("c.json", []byte(sampleJSON))
	if got := SummarizeChange(nil, a); got != "initial" {
		t.Fatalf("nil prev = %q", got)
	}
	if got := SummarizeChange(a, b); got != "none" {
		t.Fatalf("identical = %q", got)
	}
	b.Alerts.CPUThreshold = 70
	b.Logging.Level = "warn"
	if got := SummarizeChange(a, b); got != "alerts,logging" {
		t.Fatalf("changed = %q, want alerts,logging", got)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	if err := os.WriteFile(path, []byte(`{"alerts": {"cpu_threshold": 500}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Alerts)
	case <-time.After(600 * time.Millisecond):
	}

	next := strings.Replace(sampleJSON, `"cpu_threshold": 80`, `"cpu_threshold": 65`, 1)
	if err := os.WriteFile(path, []byte(next), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Alerts.CPUThreshold != 65 {
			t.Fatalf("published cpu_threshold = %v, want 65", cfg.Alerts.CPUThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if m.Get().Alerts.CPUThreshold != 65 {
		t.Fatal("Get did not return the reloaded config")
	}

	cancel()
	<-done
}
