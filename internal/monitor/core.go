// Package monitor wires the cache, history, alerting, status tracking and the
// notification log into the single entry point that probes and the API talk to.
package monitor

import (
	"context"
	"time"

	"pewdash/internal/alert"
	"pewdash/internal/cache"
	"pewdash/internal/eventbus"
	"pewdash/internal/history"
	"pewdash/internal/notifylog"
	"pewdash/internal/probe"
	"pewdash/internal/status"
	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
)

type Options struct {
	Backend   storage.Store
	Bus       eventbus.Bus
	Log       logx.Logger
	Now       func() time.Time
	IOTimeout time.Duration

	// Windows overrides freshness per kind.
	Windows map[cache.Kind]time.Duration

	HistoryCapacity      int
	HistoryInterval      time.Duration
	NotificationCapacity int
	Alerts               alert.Config
}

// Core owns one instance of every store. It is safe for concurrent use.
type Core struct {
	metrics    *cache.Slot[probe.Metrics]
	services   *cache.Slot[[]probe.Service]
	containers *cache.Slot[[]probe.Container]
	cache      *cache.Store

	history *history.Buffer
	alerts  *alert.Evaluator
	status  *status.Detector
	notes   *notifylog.Log

	bus eventbus.Bus
	log logx.Logger
	now func() time.Time
}

// New builds a Core with one cache slot per kind, the history buffer and the
// notification log, all sharing opts.Backend.
func New(opts Options) *Core {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	log := opts.Log.With(logx.String("comp", "monitor"))

	copts := cache.Options{Backend: opts.Backend, Log: log, Now: opts.Now, IOTimeout: opts.IOTimeout}
	services := cache.NewSlot[[]probe.Service](cache.KindServices, opts.Windows[cache.KindServices], copts).
		WithClone(probe.CloneServices)
	containers := cache.NewSlot[[]probe.Container](cache.KindContainers, opts.Windows[cache.KindContainers], copts).
		WithClone(probe.CloneContainers)
	c := &Core{
		metrics:    cache.NewSlot[probe.Metrics](cache.KindMetrics, opts.Windows[cache.KindMetrics], copts),
		services:   services,
		containers: containers,
		history: history.New(history.Options{
			Capacity:    opts.HistoryCapacity,
			MinInterval: opts.HistoryInterval,
			Backend:     opts.Backend,
			Log:         log,
			Now:         opts.Now,
			IOTimeout:   opts.IOTimeout,
		}),
		alerts: alert.New(opts.Alerts),
		status: status.New(),
		notes: notifylog.New(notifylog.Options{
			Capacity:  opts.NotificationCapacity,
			Backend:   opts.Backend,
			Bus:       opts.Bus,
			Log:       log,
			Now:       opts.Now,
			IOTimeout: opts.IOTimeout,
		}),
		bus: opts.Bus,
		log: log,
		now: opts.Now,
	}
	c.cache = cache.NewStore(c.metrics, c.services, c.containers)
	return c
}

// Restore reloads history and notifications from the backend. Cache slots load lazily.
func (c *Core) Restore(ctx context.Context) {
	h := c.history.Restore(ctx)
	n := c.notes.Restore(ctx)
	if h > 0 || n > 0 {
		c.log.Info("state restored", logx.Int("history_points", h), logx.Int("notifications", n))
	}
}

// MetricsResult describes what one metrics ingest did.
type MetricsResult struct {
	Recorded      bool                     `json:"recorded"`
	Notifications []notifylog.Notification `json:"notifications,omitempty"`
}

// IngestMetrics caches m and, when the sampling gate allows, records a history point
// and evaluates alerts against the point it follows. Samples rejected by the gate are
// cached but never evaluated, so a spike that starts and ends between two recorded
// points raises no alert.
func (c *Core) IngestMetrics(ctx context.Context, m probe.Metrics) MetricsResult {
	if m.CollectedAt.IsZero() {
		m.CollectedAt = c.now()
	}
	c.metrics.Set(ctx, m)
	c.publishCacheUpdated(cache.KindMetrics)

	p := pointFrom(m)
	var drafts []notifylog.Draft
	recorded := c.history.Record(ctx, p, func(prev *history.Point) {
		drafts = c.alerts.Evaluate(prev, p)
	})

	res := MetricsResult{Recorded: recorded}
	for _, d := range drafts {
		res.Notifications = append(res.Notifications, c.notes.Append(ctx, d))
	}
	if len(drafts) > 0 {
		c.log.Info("resource alerts raised", logx.Int("count", len(drafts)))
	}
	return res
}

// IngestServices caches the records and reports status transitions.
func (c *Core) IngestServices(ctx context.Context, records []probe.Service) []notifylog.Notification {
	if records == nil {
		records = []probe.Service{}
	}
	c.services.Set(ctx, records)
	c.publishCacheUpdated(cache.KindServices)

	var out []notifylog.Notification
	for _, d := range c.status.ObserveBatch(records) {
		out = append(out, c.notes.Append(ctx, d))
	}
	return out
}

func (c *Core) IngestContainers(ctx context.Context, records []probe.Container) {
	if records == nil {
		records = []probe.Container{}
	}
	c.containers.Set(ctx, records)
	c.publishCacheUpdated(cache.KindContainers)
}

func (c *Core) CacheView(ctx context.Context, kind cache.Kind) (cache.View, bool, error) {
	return c.cache.View(ctx, kind)
}

func (c *Core) CacheKinds() []cache.Kind { return c.cache.Kinds() }

func (c *Core) Metrics(ctx context.Context) (cache.Entry[probe.Metrics], bool) {
	return c.metrics.Get(ctx)
}

func (c *Core) Services(ctx context.Context) (cache.Entry[[]probe.Service], bool) {
	return c.services.Get(ctx)
}

func (c *Core) History(sinceHours float64) []history.Point { return c.history.Query(sinceHours) }

func (c *Core) Notifications(limit int) ([]notifylog.Notification, int) {
	return c.notes.List(limit)
}

// Notify appends an externally supplied notification.
func (c *Core) Notify(ctx context.Context, d notifylog.Draft) (notifylog.Notification, error) {
	if err := d.Validate(); err != nil {
		return notifylog.Notification{}, err
	}
	return c.notes.Append(ctx, d), nil
}

func (c *Core) MarkRead(ctx context.Context, id string) bool { return c.notes.MarkRead(ctx, id) }

func (c *Core) MarkAllRead(ctx context.Context) int { return c.notes.MarkAllRead(ctx) }

func (c *Core) ClearNotifications(ctx context.Context) { c.notes.Clear(ctx) }

// ApplyAlerts swaps alert thresholds at runtime.
func (c *Core) ApplyAlerts(cfg alert.Config) { c.alerts.Apply(cfg) }

// ServiceStatuses returns the detector's last known status per service id.
func (c *Core) ServiceStatuses() map[string]probe.Status { return c.status.Snapshot() }

func (c *Core) publishCacheUpdated(kind cache.Kind) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeCacheUpdated, Data: kind})
}

func pointFrom(m probe.Metrics) history.Point {
	return history.Point{
		Timestamp:     m.CollectedAt,
		CPUPercent:    m.CPU,
		MemoryPercent: m.Memory.Percent,
		DiskPercent:   m.Disk.Percent,
		NetworkUp:     m.Network.Up,
		NetworkDown:   m.Network.Down,
	}
}
