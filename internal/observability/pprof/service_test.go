package pprof

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"testing"
	"time"

	logx "pewdash/pkg/logx"
)

func get(t *testing.T, url string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0
	}
	_ = res.Body.Close()
	return res.StatusCode
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected bound address")
	}
	if code := get(t, "http://"+addr+"/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("GET /debug/pprof/ = %d, want 200", code)
	}
	if got := runtime.SetMutexProfileFraction(-1); got != 7 {
		t.Fatalf("mutex profile fraction = %d, want 7", got)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("listener still bound after disable")
	}
	if code := get(t, "http://"+addr+"/healthz"); code != 0 {
		t.Fatalf("server still answering after disable: %d", code)
	}
}

func TestRefusesNonLoopbackWithoutOptIn(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Start = %v, want ErrInsecureBind", err)
	}
	if s.Addr() != "" {
		t.Fatal("listener bound despite refusal")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
