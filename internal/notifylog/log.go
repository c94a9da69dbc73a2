// Package notifylog is the capped, newest-first notification log with read state.
package notifylog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pewdash/internal/eventbus"
	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
)

const (
	DefaultCapacity = 50

	storageKey       = "notifications"
	defaultIOTimeout = 250 * time.Millisecond
)

type Options struct {
	Capacity  int
	Backend   storage.Store
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
	NewID     func() string
	IOTimeout time.Duration
}

// Log is safe for concurrent use.
type Log struct {
	mu    sync.Mutex
	items []Notification // newest first
	seq   uint64

	persistMu sync.Mutex
	written   uint64

	capacity  int
	backend   storage.Store
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time
	newID     func() string
	ioTimeout time.Duration
}

// New returns an empty log capped at opts.Capacity (default 50).
func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "notif-" + uuid.NewString() }
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Log{
		capacity:  opts.Capacity,
		backend:   opts.Backend,
		bus:       opts.Bus,
		log:       opts.Log,
		now:       opts.Now,
		newID:     opts.NewID,
		ioTimeout: opts.IOTimeout,
	}
}

// Append assigns id and createdAt, inserts at the head and drops the oldest beyond capacity.
func (l *Log) Append(ctx context.Context, d Draft) Notification {
	n := Notification{
		ID:              l.newID(),
		Kind:            d.Kind,
		Title:           d.Title,
		Message:         d.Message,
		CreatedAt:       l.now(),
		RelatedEntityID: d.EntityID,
	}
	if !n.Kind.Valid() {
		n.Kind = KindInfo
	}

	l.mu.Lock()
	items := make([]Notification, 0, min(len(l.items)+1, l.capacity))
	items = append(items, n)
	for _, it := range l.items {
		if len(items) == l.capacity {
			break
		}
		items = append(items, it)
	}
	l.items = items
	l.seq++
	snap, seq := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap, seq)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationCreated, Data: n})
	}
	l.log.Debug("notification appended", logx.String("id", n.ID), logx.String("kind", string(n.Kind)), logx.String("title", n.Title))
	return n
}

// List returns up to limit newest items (limit <= 0 means all) and the unread count
// over the whole log.
func (l *Log) List(limit int) ([]Notification, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	unread := 0
	for _, it := range l.items {
		if !it.Read {
			unread++
		}
	}
	n := len(l.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Notification, n)
	copy(out, l.items[:n])
	return out, unread
}

// MarkRead flags one notification as read. Unknown ids are a no-op.
func (l *Log) MarkRead(ctx context.Context, id string) bool {
	l.mu.Lock()
	found, changed := false, false
	for i := range l.items {
		if l.items[i].ID == id {
			found = true
			changed = !l.items[i].Read
			l.items[i].Read = true
			break
		}
	}
	if !changed {
		l.mu.Unlock()
		return found
	}
	l.seq++
	snap, seq := l.snapshotLocked()
	l.mu.Unlock()
	l.persist(ctx, snap, seq)
	return true
}

// MarkAllRead flags every notification as read and returns how many changed.
func (l *Log) MarkAllRead(ctx context.Context) int {
	l.mu.Lock()
	changed := 0
	for i := range l.items {
		if !l.items[i].Read {
			l.items[i].Read = true
			changed++
		}
	}
	if changed == 0 {
		l.mu.Unlock()
		return 0
	}
	l.seq++
	snap, seq := l.snapshotLocked()
	l.mu.Unlock()
	l.persist(ctx, snap, seq)
	return changed
}

// Clear empties the log.
func (l *Log) Clear(ctx context.Context) {
	l.mu.Lock()
	l.items = nil
	l.seq++
	snap, seq := l.snapshotLocked()
	l.mu.Unlock()

	l.persist(ctx, snap, seq)
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationsClear})
	}
}

// Restore loads the persisted log; missing or unreadable data leaves it empty.
func (l *Log) Restore(ctx context.Context) int {
	if l.backend == nil {
		return 0
	}
	ioCtx, cancel := context.WithTimeout(ctx, l.ioTimeout)
	raw, err := l.backend.Get(ioCtx, storageKey)
	cancel()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.Warn("notification restore failed", logx.Err(err))
		}
		return 0
	}
	var items []Notification
	if err := json.Unmarshal(raw, &items); err != nil {
		l.log.Warn("notification data unreadable; starting empty", logx.Err(err))
		return 0
	}
	if len(items) > l.capacity {
		items = items[:l.capacity]
	}

	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	return len(items)
}

func (l *Log) snapshotLocked() ([]Notification, uint64) {
	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out, l.seq
}

func (l *Log) persist(ctx context.Context, items []Notification, seq uint64) {
	if l.backend == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		l.log.Warn("notification encode failed", logx.Err(err))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if seq <= l.written {
		return
	}
	ioCtx, cancel := context.WithTimeout(ctx, l.ioTimeout)
	defer cancel()
	if err := l.backend.Put(ioCtx, storageKey, raw); err != nil {
		l.log.Warn("notification persist failed", logx.Err(err))
		return
	}
	l.written = seq
}
