package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pewdash/internal/alert"
	"pewdash/internal/cache"
	"pewdash/internal/eventbus"
	"pewdash/internal/notifylog"
	"pewdash/internal/probe"
	"pewdash/internal/storage"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCore(t *testing.T, backend storage.Store) (*Core, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New(Options{Backend: backend, Now: clk.Now}), clk
}

func metrics(cpu float64) probe.Metrics {
	return probe.Metrics{
		CPU:    cpu,
		Memory: probe.UsageMetrics{Used: 4, Total: 16, Percent: 25},
		Disk:   probe.UsageMetrics{Used: 10, Total: 100, Percent: 10},
	}
}

func TestIngestMetricsAlertsOncePerCrossing(t *testing.T) {
	t.Parallel()
	c, clk := newCore(t, nil)
	ctx := context.Background()

	r := c.IngestMetrics(ctx, metrics(80))
	if !r.Recorded || len(r.Notifications) != 0 {
		t.Fatalf("first ingest %+v", r)
	}

	// Inside the sampling interval: cached, not recorded, no alert.
	clk.Advance(time.Minute)
	if r := c.IngestMetrics(ctx, metrics(99)); r.Recorded || len(r.Notifications) != 0 {
		t.Fatalf("gated ingest %+v", r)
	}
	if e, ok := c.Metrics(ctx); !ok || e.Data.CPU != 99 {
		t.Fatalf("cache not updated by gated ingest: %+v", e)
	}

	clk.Advance(4 * time.Minute)
	r = c.IngestMetrics(ctx, metrics(95))
	if !r.Recorded || len(r.Notifications) != 1 || r.Notifications[0].Title != "High CPU Usage" {
		t.Fatalf("crossing ingest %+v", r)
	}

	clk.Advance(5 * time.Minute)
	if r := c.IngestMetrics(ctx, metrics(96)); len(r.Notifications) != 0 {
		t.Fatalf("sustained breach fired again: %+v", r)
	}
	if got := len(c.History(0)); got != 3 {
		t.Fatalf("history len = %d, want 3", got)
	}
	if _, unread := c.Notifications(0); unread != 1 {
		t.Fatalf("unread = %d, want 1", unread)
	}
}

func TestConcurrentIngestFiresOnce(t *testing.T) {
	t.Parallel()
	c, clk := newCore(t, nil)
	ctx := context.Background()
	c.IngestMetrics(ctx, metrics(50))
	clk.Advance(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IngestMetrics(ctx, metrics(97))
		}()
	}
	wg.Wait()
	if items, _ := c.Notifications(0); len(items) != 1 {
		t.Fatalf("notifications = %d, want 1", len(items))
	}
}

func TestIngestServicesTransitions(t *testing.T) {
	t.Parallel()
	c, _ := newCore(t, nil)
	ctx := context.Background()
	svc := func(st probe.Status) []probe.Service {
		return []probe.Service{{ID: "db", Name: "Postgres", Status: st}}
	}
	for _, st := range []probe.Status{probe.StatusOnline, probe.StatusOnline, probe.StatusOffline, probe.StatusOffline, probe.StatusOnline} {
		c.IngestServices(ctx, svc(st))
	}
	items, _ := c.Notifications(0)
	if len(items) != 2 || items[0].Title != "Service Recovered" || items[1].Title != "Service Offline" {
		t.Fatalf("notifications = %+v", items)
	}
	if c.ServiceStatuses()["db"] != probe.StatusOnline {
		t.Fatal("status map not updated")
	}
}

func TestCacheViewAndContainers(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(Options{Bus: bus, Now: clk.Now})
	ctx := context.Background()

	if _, ok, err := c.CacheView(ctx, cache.KindContainers); ok || err != nil {
		t.Fatalf("empty containers: ok=%v err=%v", ok, err)
	}
	c.IngestContainers(ctx, []probe.Container{{ID: "abc", Name: "web", State: "running"}})
	clk.Advance(31 * time.Second)
	v, ok, err := c.CacheView(ctx, cache.KindContainers)
	if err != nil || !ok || !v.Stale || v.AgeMs != 31000 {
		t.Fatalf("view = %+v ok=%v err=%v", v, ok, err)
	}
	if _, _, err := c.CacheView(ctx, "bogus"); !errors.Is(err, cache.ErrUnknownKind) {
		t.Fatalf("err = %v", err)
	}
	if e := <-ch; e.Type != eventbus.TypeCacheUpdated || e.Data != cache.KindContainers {
		t.Fatalf("event = %+v", e)
	}
}

func TestNotifyValidatesAndMutations(t *testing.T) {
	t.Parallel()
	c, _ := newCore(t, nil)
	ctx := context.Background()
	if _, err := c.Notify(ctx, notifylog.Draft{Kind: "nope", Title: "x"}); !errors.Is(err, notifylog.ErrInvalidDraft) {
		t.Fatalf("err = %v", err)
	}
	n, err := c.Notify(ctx, notifylog.Draft{Kind: notifylog.KindInfo, Title: "Deploy", Message: "v2 rolled out"})
	if err != nil {
		t.Fatal(err)
	}
	if !c.MarkRead(ctx, n.ID) || c.MarkRead(ctx, "missing") {
		t.Fatal("MarkRead results wrong")
	}
	c.Notify(ctx, notifylog.Draft{Kind: notifylog.KindInfo, Title: "Deploy 2"})
	if c.MarkAllRead(ctx) != 1 {
		t.Fatal("MarkAllRead should change one item")
	}
	c.ClearNotifications(ctx)
	if items, _ := c.Notifications(0); len(items) != 0 {
		t.Fatal("clear failed")
	}
}

func TestRestartRefiresSustainedBreach(t *testing.T) {
	t.Parallel()
	backend := storage.NewMemory()
	ctx := context.Background()

	first, clk := newCore(t, backend)
	first.IngestMetrics(ctx, metrics(95))
	if items, _ := first.Notifications(0); len(items) != 1 {
		t.Fatalf("first run notifications = %d", len(items))
	}

	second := New(Options{Backend: backend, Now: clk.Now})
	second.Restore(ctx)
	if len(second.History(0)) != 1 {
		t.Fatal("history not restored")
	}
	if e, ok := second.Metrics(ctx); !ok || e.Data.CPU != 95 {
		t.Fatalf("cache not restored: %+v ok=%v", e, ok)
	}
	clk.Advance(5 * time.Minute)
	second.IngestMetrics(ctx, metrics(96))
	if items, _ := second.Notifications(0); len(items) != 2 {
		t.Fatalf("notifications after restart = %d, want 2 (restored + re-fired)", len(items))
	}
}

func TestApplyAlerts(t *testing.T) {
	t.Parallel()
	c, _ := newCore(t, nil)
	c.ApplyAlerts(alert.Config{CPUThreshold: 50})
	r := c.IngestMetrics(context.Background(), metrics(60))
	if len(r.Notifications) != 1 {
		t.Fatalf("ApplyAlerts not honored: %+v", r)
	}
}

func TestIngestedRecordsAreCopied(t *testing.T) {
	t.Parallel()
	c, _ := newCore(t, nil)
	ctx := context.Background()

	rt := int64(12)
	recs := []probe.Service{{ID: "api", Status: probe.StatusOnline, ResponseTimeMs: &rt}}
	c.IngestServices(ctx, recs)
	recs[0].Status = probe.StatusOffline
	rt = 999

	e, ok := c.Services(ctx)
	if !ok || e.Data[0].Status != probe.StatusOnline || *e.Data[0].ResponseTimeMs != 12 {
		t.Fatalf("caller mutation leaked into cache: %+v", e.Data)
	}
	e.Data[0].ID = "changed"
	if again, _ := c.Services(ctx); again.Data[0].ID != "api" {
		t.Fatalf("reader mutation leaked into cache: %+v", again.Data)
	}

	labels := map[string]string{"tier": "web"}
	c.IngestContainers(ctx, []probe.Container{{ID: "abc", Name: "web", State: "running", Labels: labels}})
	labels["tier"] = "db"
	v, _, err := c.CacheView(ctx, cache.KindContainers)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Data.([]probe.Container)[0].Labels["tier"]; got != "web" {
		t.Fatalf("container labels = %q, want web", got)
	}
}
