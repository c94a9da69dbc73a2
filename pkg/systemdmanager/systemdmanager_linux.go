//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager reads unit state over the system D-Bus.
type Manager struct {
	mu    sync.RWMutex
	conn  *dbus.Conn
	cache *stateCache
}

// NewContext connects to systemd. cacheTTL 0 selects the default, < 0 disables caching.
func NewContext(ctx context.Context, cacheTTL time.Duration) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn, cache: newStateCache(cacheTTL)}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// StateContext returns the unit's state. A missing unit is reported with
// LoadState "not-found" rather than an error.
func (m *Manager) StateContext(ctx context.Context, name string) (*UnitState, error) {
	unit := unitName(name)
	now := time.Now()
	if st, ok := m.cache.get(unit, now); ok {
		return &st, nil
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("systemd connection is closed")
	}

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(name), nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", name, err)
	}

	loadState, _ := getStringProperty(props, "LoadState")
	if loadState == "not-found" {
		return notFound(name), nil
	}
	activeState, _ := getStringProperty(props, "ActiveState")
	subState, _ := getStringProperty(props, "SubState")
	description, _ := getStringProperty(props, "Description")

	st := UnitState{
		Name:        name,
		Active:      activeState,
		SubState:    subState,
		LoadState:   loadState,
		Description: description,
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
		StateChange: parseTimestamp(props, "StateChangeTimestamp"),
	}
	m.cache.put(unit, st, now)
	return &st, nil
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func getStringProperty(props map[string]interface{}, key string) (string, bool) {
	if val, ok := props[key].(string); ok {
		return val, true
	}
	return "", false
}
