package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store closed")
)

// Store is the persistence API used by the cache, history and notification log.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map
//   - "file":   directory of value files (Path is the directory)
//   - "sqlite": SQLite database file (Path is the db file)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
