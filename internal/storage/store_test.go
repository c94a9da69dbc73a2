package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "pewdash/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "files")},
		{Driver: "sqlite", Path: filepath.Join(dir, "db", "dash.sqlite")},
	} {
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.Get(ctx, "cache:metrics"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
			}
			if err := st.Put(ctx, "cache:metrics", []byte(`{"v":1}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "cache:metrics", []byte(`{"v":2}`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, err := st.Get(ctx, "cache:metrics")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"v":2}` {
				t.Fatalf("Get = %s, want {\"v\":2}", got)
			}
			if err := st.Delete(ctx, "cache:metrics"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := st.Get(ctx, "cache:metrics"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete: err = %v, want ErrNotFound", err)
			}
			if err := st.Delete(ctx, "never-written"); err != nil {
				t.Fatalf("Delete missing key should be a no-op, got %v", err)
			}
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestClosedStoreRejects(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "k", []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after close: err = %v, want ErrClosed", err)
	}
}
