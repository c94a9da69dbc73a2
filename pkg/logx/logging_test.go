package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "cache"))

	log.Info("dropped")
	log.Warn("persist failed", String("kind", "metrics"), Int("attempt", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["comp"] != "cache" || m["kind"] != "metrics" || m["message"] != "persist failed" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["attempt"].(float64) != 2 {
		t.Fatalf("attempt = %v, want 2", m["attempt"])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("expected zero logger")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop() should not report zero")
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dash.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("hello", Bool("ok", true))

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("filtered")
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"hello"`) {
		t.Fatalf("expected debug line in file, got %q", string(b))
	}
	if strings.Contains(string(b), "filtered") {
		t.Fatalf("info line should be filtered after Apply(error)")
	}
}
