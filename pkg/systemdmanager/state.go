package systemdmanager

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// UnitState is the read-only view of a unit used by health checks.
type UnitState struct {
	Name        string
	Active      string // active, inactive, failed, activating, ...
	SubState    string // running, dead, ...
	LoadState   string // loaded, not-found, ...
	Description string
	ActiveSince time.Time // ActiveEnterTimestamp
	StateChange time.Time // StateChangeTimestamp
}

// Found reports whether systemd knows the unit.
func (u UnitState) Found() bool { return u.LoadState != "not-found" }

func notFound(name string) *UnitState {
	return &UnitState{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

// unitName appends ".service" unless name already carries a unit suffix.
func unitName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		switch name[i+1:] {
		case "service", "socket", "timer", "mount", "target", "path", "scope", "slice":
			return name
		}
	}
	return name + ".service"
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

const (
	defaultStateCacheTTL = 2 * time.Second
	maxStateCacheEntries = 256
)

type stateCacheEntry struct {
	state   UnitState
	expires time.Time
}

// stateCache memoizes unit lookups briefly so batch checks of the same unit share
// one D-Bus round trip.
type stateCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]stateCacheEntry
}

func newStateCache(ttl time.Duration) *stateCache {
	if ttl == 0 {
		ttl = defaultStateCacheTTL
	}
	return &stateCache{ttl: ttl, entries: map[string]stateCacheEntry{}}
}

func (c *stateCache) get(unit string, now time.Time) (UnitState, bool) {
	if c.ttl < 0 {
		return UnitState{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[unit]
	if !ok || !now.Before(e.expires) {
		return UnitState{}, false
	}
	return e.state, true
}

func (c *stateCache) put(unit string, st UnitState, now time.Time) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[unit] = stateCacheEntry{state: st, expires: now.Add(c.ttl)}
	if len(c.entries) > maxStateCacheEntries {
		c.cleanupLocked(now)
	}
	for len(c.entries) > maxStateCacheEntries {
		c.pruneOldestLocked()
	}
}

func (c *stateCache) cleanupLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

func (c *stateCache) pruneOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range c.entries {
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	delete(c.entries, oldestKey)
}
