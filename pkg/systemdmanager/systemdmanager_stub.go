//go:build !linux

package systemdmanager

import (
	"context"
	"time"
)

type Manager struct{}

func NewContext(ctx context.Context, cacheTTL time.Duration) (*Manager, error) {
	return nil, ErrUnsupported
}

func (m *Manager) Close() error { return nil }

func (m *Manager) StateContext(ctx context.Context, name string) (*UnitState, error) {
	return nil, ErrUnsupported
}
