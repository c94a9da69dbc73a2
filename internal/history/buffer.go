// Package history keeps a bounded, ascending series of metric snapshots for charts.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
)

const (
	// DefaultCapacity holds 24h of points at the default interval.
	DefaultCapacity    = 288
	DefaultMinInterval = 5 * time.Minute

	storageKey       = "history"
	defaultIOTimeout = 250 * time.Millisecond
)

// Point is one sampled metric snapshot.
type Point struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	DiskPercent   float64   `json:"diskPercent"`
	NetworkUp     float64   `json:"networkUpBytesPerSec"`
	NetworkDown   float64   `json:"networkDownBytesPerSec"`
}

type Options struct {
	Capacity    int
	MinInterval time.Duration
	Backend     storage.Store
	Log         logx.Logger
	Now         func() time.Time
	IOTimeout   time.Duration
}

// Buffer is a fixed-capacity ring of points in append order.
type Buffer struct {
	mu    sync.RWMutex
	data  []Point
	head  int // index of the oldest point
	count int

	// restored is true while the newest point came from the backend rather than
	// from this process. Such a point is never offered as the previous point.
	restored bool

	// seq orders snapshots so a slow persist never overwrites a newer one.
	seq       uint64
	persistMu sync.Mutex
	written   uint64

	minInterval time.Duration
	backend     storage.Store
	log         logx.Logger
	now         func() time.Time
	ioTimeout   time.Duration
}

// New returns an empty buffer; zero options select the 288-point, 5-minute defaults.
func New(opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = defaultIOTimeout
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Buffer{
		data:        make([]Point, opts.Capacity),
		minInterval: opts.MinInterval,
		backend:     opts.Backend,
		log:         opts.Log,
		now:         opts.Now,
		ioTimeout:   opts.IOTimeout,
	}
}

// Capacity is the fixed number of points kept.
func (b *Buffer) Capacity() int { return len(b.data) }

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// ShouldAppend reports whether a point taken at now passes the sampling gate.
func (b *Buffer) ShouldAppend(now time.Time) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.shouldAppendLocked(now)
}

func (b *Buffer) shouldAppendLocked(now time.Time) bool {
	if b.count == 0 {
		return true
	}
	return now.Sub(b.lastLocked().Timestamp) >= b.minInterval
}

// Append pushes p unconditionally, evicting the oldest point when full.
// Timestamps are not checked for monotonicity.
func (b *Buffer) Append(ctx context.Context, p Point) {
	b.mu.Lock()
	b.appendLocked(p)
	snap, seq := b.snapshotLocked(), b.seq
	b.mu.Unlock()
	b.persist(ctx, snap, seq)
}

// Record runs the gate check, the previous-point read, decide and the append as one
// step. decide sees nil when there is no usable previous point. It reports whether p
// was appended; decide only runs when it was.
func (b *Buffer) Record(ctx context.Context, p Point, decide func(prev *Point)) bool {
	b.mu.Lock()
	if !b.shouldAppendLocked(p.Timestamp) {
		b.mu.Unlock()
		return false
	}
	var prev *Point
	if b.count > 0 && !b.restored {
		last := b.lastLocked()
		prev = &last
	}
	if decide != nil {
		decide(prev)
	}
	b.appendLocked(p)
	snap, seq := b.snapshotLocked(), b.seq
	b.mu.Unlock()

	b.persist(ctx, snap, seq)
	return true
}

// Query returns points with timestamp >= now - sinceHours, ascending.
// sinceHours <= 0 returns every point.
func (b *Buffer) Query(sinceHours float64) []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := b.snapshotLocked()
	if sinceHours <= 0 {
		return all
	}
	cutoff := b.now().Add(-time.Duration(sinceHours * float64(time.Hour)))
	for i, p := range all {
		if !p.Timestamp.Before(cutoff) {
			return all[i:]
		}
	}
	return []Point{}
}

// Latest returns the newest point, if any.
func (b *Buffer) Latest() (Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return Point{}, false
	}
	return b.lastLocked(), true
}

// Restore loads persisted points. Missing or unreadable data leaves the buffer empty.
func (b *Buffer) Restore(ctx context.Context) int {
	if b.backend == nil {
		return 0
	}
	ioCtx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	raw, err := b.backend.Get(ioCtx, storageKey)
	cancel()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.log.Warn("history restore failed", logx.Err(err))
		}
		return 0
	}
	var pts []Point
	if err := json.Unmarshal(raw, &pts); err != nil {
		b.log.Warn("history data unreadable; starting empty", logx.Err(err))
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.count = 0, 0
	for _, p := range pts {
		b.appendLocked(p)
	}
	b.restored = b.count > 0
	return b.count
}

func (b *Buffer) lastLocked() Point {
	return b.data[(b.head+b.count-1)%len(b.data)]
}

func (b *Buffer) appendLocked(p Point) {
	size := len(b.data)
	if b.count < size {
		b.data[(b.head+b.count)%size] = p
		b.count++
	} else {
		b.data[b.head] = p
		b.head = (b.head + 1) % size
	}
	b.restored = false
	b.seq++
}

func (b *Buffer) snapshotLocked() []Point {
	out := make([]Point, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}

func (b *Buffer) persist(ctx context.Context, pts []Point, seq uint64) {
	if b.backend == nil {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()
	if seq <= b.written {
		return
	}
	raw, err := json.Marshal(pts)
	if err != nil {
		b.log.Warn("history encode failed", logx.Err(err))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ioCtx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()
	if err := b.backend.Put(ioCtx, storageKey, raw); err != nil {
		b.log.Warn("history persist failed", logx.Err(err))
		return
	}
	b.written = seq
}
