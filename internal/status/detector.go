// Package status tracks the last known status per service and reports transitions.
package status

import (
	"fmt"
	"sync"

	"pewdash/internal/notifylog"
	"pewdash/internal/probe"
)

// Detector holds status in process memory only.
type Detector struct {
	mu   sync.Mutex
	last map[string]probe.Status
}

func New() *Detector {
	return &Detector{last: map[string]probe.Status{}}
}

// Observe records st for id and returns a draft when the transition is notable.
// The first observation of an id never notifies.
func (d *Detector) Observe(id, name string, st probe.Status) (notifylog.Draft, bool) {
	d.mu.Lock()
	prev, seen := d.last[id]
	d.last[id] = st
	d.mu.Unlock()

	if !seen || prev == st {
		return notifylog.Draft{}, false
	}
	if name == "" {
		name = id
	}
	switch {
	case st == probe.StatusOffline:
		return notifylog.Draft{
			Kind:     notifylog.KindError,
			Title:    "Service Offline",
			Message:  fmt.Sprintf("%s is offline", name),
			EntityID: id,
		}, true
	case prev == probe.StatusOffline && st == probe.StatusOnline:
		return notifylog.Draft{
			Kind:     notifylog.KindSuccess,
			Title:    "Service Recovered",
			Message:  fmt.Sprintf("%s is back online", name),
			EntityID: id,
		}, true
	case st == probe.StatusDegraded:
		return notifylog.Draft{
			Kind:     notifylog.KindWarning,
			Title:    "Service Degraded",
			Message:  fmt.Sprintf("%s is degraded", name),
			EntityID: id,
		}, true
	}
	return notifylog.Draft{}, false
}

// ObserveBatch observes each entity once; when an id repeats, its last record wins.
func (d *Detector) ObserveBatch(records []probe.Service) []notifylog.Draft {
	pos := make(map[string]int, len(records))
	for i, r := range records {
		pos[r.ID] = i
	}
	var out []notifylog.Draft
	for i, r := range records {
		if r.ID == "" || pos[r.ID] != i {
			continue
		}
		if draft, ok := d.Observe(r.ID, r.DisplayName(), r.Status); ok {
			out = append(out, draft)
		}
	}
	return out
}

// Snapshot returns a copy of the status map.
func (d *Detector) Snapshot() map[string]probe.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]probe.Status, len(d.last))
	for k, v := range d.last {
		out[k] = v
	}
	return out
}
