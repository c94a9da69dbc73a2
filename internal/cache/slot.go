package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
)

// Kind names one cached probe result.
type Kind string

const (
	KindMetrics    Kind = "metrics"
	KindServices   Kind = "services"
	KindContainers Kind = "containers"
)

// ErrUnknownKind is returned by Store.View for kinds without a slot.
var ErrUnknownKind = errors.New("cache: unknown kind")

// DefaultWindow returns the freshness window used when none is configured.
func DefaultWindow(k Kind) time.Duration {
	switch k {
	case KindMetrics:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

const defaultIOTimeout = 250 * time.Millisecond

// Entry is a typed cache read.
type Entry[T any] struct {
	Data      T
	WrittenAt time.Time
	Stale     bool
}

// View is the untyped shape served to dashboards.
type View struct {
	Data  any   `json:"data"`
	Stale bool  `json:"stale"`
	AgeMs int64 `json:"ageMs"`
}

// Options are shared by every slot of a store.
type Options struct {
	Backend   storage.Store // nil keeps entries in memory only
	Log       logx.Logger
	Now       func() time.Time
	IOTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = defaultIOTimeout
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

type record[T any] struct {
	data      T
	writtenAt time.Time
}

// persisted is the backend layout for "cache:<kind>".
type persisted[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"` // unix millis
}

// Slot holds the latest value of one kind.
type Slot[T any] struct {
	kind   Kind
	window time.Duration
	opts   Options
	clone  func(T) T

	mu     sync.Mutex // serializes writers and the lazy backend load
	cur    atomic.Pointer[record[T]]
	loaded atomic.Bool
}

// NewSlot creates a slot; window <= 0 selects DefaultWindow(kind).
func NewSlot[T any](kind Kind, window time.Duration, opts Options) *Slot[T] {
	if window <= 0 {
		window = DefaultWindow(kind)
	}
	opts = opts.withDefaults()
	opts.Log = opts.Log.With(logx.String("kind", string(kind)))
	s := &Slot[T]{kind: kind, window: window, opts: opts}
	if opts.Backend == nil {
		s.loaded.Store(true)
	}
	return s
}

// WithClone makes the slot deep-copy values on the way in and out, so callers
// never share memory with the cached entry. Call it before first use.
func (s *Slot[T]) WithClone(fn func(T) T) *Slot[T] {
	s.clone = fn
	return s
}

// Kind reports which probe result the slot holds.
func (s *Slot[T]) Kind() Kind { return s.kind }

// Window is the freshness window after which entries read as stale.
func (s *Slot[T]) Window() time.Duration { return s.window }

func (s *Slot[T]) copyOf(v T) T {
	if s.clone == nil {
		return v
	}
	return s.clone(v)
}

func (s *Slot[T]) key() string { return "cache:" + string(s.kind) }

func (s *Slot[T]) ioCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.opts.IOTimeout)
}

// Set records data with writtenAt = now.
// If the backend rejects the write the previous entry stays in place.
func (s *Slot[T]) Set(ctx context.Context, data T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &record[T]{data: s.copyOf(data), writtenAt: s.opts.Now()}
	if s.opts.Backend != nil {
		b, err := json.Marshal(persisted[T]{Data: rec.data, Timestamp: rec.writtenAt.UnixMilli()})
		if err != nil {
			s.opts.Log.Warn("cache encode failed", logx.Err(err))
			return
		}
		ioCtx, cancel := s.ioCtx(ctx)
		err = s.opts.Backend.Put(ioCtx, s.key(), b)
		cancel()
		if err != nil {
			s.opts.Log.Warn("cache write failed; keeping previous entry", logx.Err(err))
			return
		}
	}
	s.cur.Store(rec)
	s.loaded.Store(true)
}

// Get returns the current entry and whether one exists.
func (s *Slot[T]) Get(ctx context.Context) (Entry[T], bool) {
	rec := s.cur.Load()
	if rec == nil && !s.loaded.Load() {
		rec = s.load(ctx)
	}
	if rec == nil {
		return Entry[T]{}, false
	}
	return Entry[T]{
		Data:      s.copyOf(rec.data),
		WrittenAt: rec.writtenAt,
		Stale:     s.opts.Now().Sub(rec.writtenAt) >= s.window,
	}, true
}

// View is Get without the type parameter.
func (s *Slot[T]) View(ctx context.Context) (View, bool) {
	e, ok := s.Get(ctx)
	if !ok {
		return View{}, false
	}
	age := s.opts.Now().Sub(e.WrittenAt).Milliseconds()
	if age < 0 {
		age = 0
	}
	return View{Data: e.Data, Stale: e.Stale, AgeMs: age}, true
}

func (s *Slot[T]) load(ctx context.Context) *record[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.cur.Load(); rec != nil || s.loaded.Load() {
		return rec
	}

	ioCtx, cancel := s.ioCtx(ctx)
	b, err := s.opts.Backend.Get(ioCtx, s.key())
	cancel()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.loaded.Store(true)
		return nil
	case err != nil:
		// Retry on the next read.
		s.opts.Log.Warn("cache read failed", logx.Err(err))
		return nil
	}

	var p persisted[T]
	if err := json.Unmarshal(b, &p); err != nil || p.Timestamp <= 0 {
		s.opts.Log.Warn("cache entry unreadable; treating as absent", logx.Err(err))
		s.loaded.Store(true)
		return nil
	}
	rec := &record[T]{data: p.Data, writtenAt: time.UnixMilli(p.Timestamp)}
	s.cur.Store(rec)
	s.loaded.Store(true)
	return rec
}
