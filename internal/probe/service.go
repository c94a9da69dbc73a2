package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "pewdash/pkg/logx"
	"pewdash/pkg/systemd"
	"pewdash/pkg/systemdmanager"
)

type TargetKind string

const (
	TargetHTTP    TargetKind = "http"
	TargetSystemd TargetKind = "systemd"
)

const (
	defaultCheckTimeout = 5 * time.Second
	defaultConcurrency  = 8
	uptimeWindowSize    = 100
)

// Target is one service to check.
type Target struct {
	ID   string
	Name string
	Kind TargetKind

	URL           string        // http
	DegradedAfter time.Duration // http: slower responses are degraded; 0 disables
	Unit          string        // systemd

	Timeout time.Duration
}

// UnitStater looks up systemd unit state. *systemdmanager.Manager implements it.
type UnitStater interface {
	StateContext(ctx context.Context, name string) (*systemdmanager.UnitState, error)
}

type ServiceOptions struct {
	Targets     []Target
	HTTPClient  *http.Client
	Units       UnitStater // nil falls back to systemctl
	Concurrency int
	Log         logx.Logger
	Now         func() time.Time
}

// ServiceProbe checks every target concurrently and keeps a rolling uptime per target.
type ServiceProbe struct {
	targets     []Target
	client      *http.Client
	units       UnitStater
	concurrency int
	log         logx.Logger
	now         func() time.Time

	mu     sync.Mutex
	uptime map[string]*uptimeWindow
}

func NewServiceProbe(opts ServiceOptions) *ServiceProbe {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Units == nil {
		opts.Units = systemctlStater{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ServiceProbe{
		targets:     append([]Target(nil), opts.Targets...),
		client:      opts.HTTPClient,
		units:       opts.Units,
		concurrency: opts.Concurrency,
		log:         opts.Log,
		now:         opts.Now,
		uptime:      map[string]*uptimeWindow{},
	}
}

// Collect checks all targets. Individual target failures are reported as statuses;
// an error is returned only when ctx ends before the cycle completes.
func (p *ServiceProbe) Collect(ctx context.Context) ([]Service, error) {
	out := make([]Service, len(p.targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, t := range p.targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.check(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	for i := range out {
		w := p.uptime[out[i].ID]
		if w == nil {
			w = &uptimeWindow{}
			p.uptime[out[i].ID] = w
		}
		w.add(out[i].Status == StatusOnline || out[i].Status == StatusDegraded)
		pct := w.percent()
		out[i].UptimePercent = &pct
	}
	p.mu.Unlock()
	return out, nil
}

func (p *ServiceProbe) check(ctx context.Context, t Target) Service {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	svc := Service{ID: t.ID, Name: t.Name, Status: StatusUnknown}
	switch t.Kind {
	case TargetHTTP:
		p.checkHTTP(ctx, t, &svc)
	case TargetSystemd:
		p.checkUnit(ctx, t, &svc)
	default:
		svc.Detail = fmt.Sprintf("unsupported target kind %q", t.Kind)
	}
	if svc.Status == StatusOffline {
		p.log.Debug("service check failed", logx.String("id", t.ID), logx.String("detail", svc.Detail))
	}
	return svc
}

func (p *ServiceProbe) checkHTTP(ctx context.Context, t Target, svc *Service) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		svc.Status, svc.Detail = StatusOffline, err.Error()
		return
	}
	req.Header.Set("User-Agent", "pewdash-probe")

	start := p.now()
	resp, err := p.client.Do(req)
	elapsed := p.now().Sub(start)
	rt := elapsed.Milliseconds()
	svc.ResponseTimeMs = &rt
	if err != nil {
		svc.Status, svc.Detail = StatusOffline, err.Error()
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	svc.Status = httpStatus(resp.StatusCode, elapsed, t.DegradedAfter)
	svc.Detail = resp.Status
}

// httpStatus maps a response onto a status: 5xx offline, 4xx degraded, otherwise
// online unless slower than degradedAfter.
func httpStatus(code int, elapsed, degradedAfter time.Duration) Status {
	switch {
	case code >= 500:
		return StatusOffline
	case code >= 400:
		return StatusDegraded
	case degradedAfter > 0 && elapsed > degradedAfter:
		return StatusDegraded
	default:
		return StatusOnline
	}
}

func (p *ServiceProbe) checkUnit(ctx context.Context, t Target, svc *Service) {
	unit := t.Unit
	if unit == "" {
		unit = t.ID
	}
	st, err := p.units.StateContext(ctx, unit)
	if err != nil {
		svc.Status, svc.Detail = StatusUnknown, err.Error()
		return
	}
	if !st.Found() {
		svc.Status, svc.Detail = StatusOffline, "unit not found"
		return
	}
	svc.Status = unitStatus(st.Active)
	svc.Detail = strings.TrimSpace(st.Active + " " + st.SubState)
}

func unitStatus(active string) Status {
	switch active {
	case "active":
		return StatusOnline
	case "activating", "reloading", "deactivating", "refreshing":
		return StatusDegraded
	case "failed", "inactive":
		return StatusOffline
	default:
		return StatusUnknown
	}
}

// systemctlStater is used when no D-Bus connection is available.
type systemctlStater struct{}

func (systemctlStater) StateContext(ctx context.Context, name string) (*systemdmanager.UnitState, error) {
	active, err := systemd.ActiveState(ctx, name)
	if err != nil {
		return nil, err
	}
	return &systemdmanager.UnitState{Name: name, Active: active, LoadState: "loaded"}, nil
}

type uptimeWindow struct {
	results [uptimeWindowSize]bool
	next    int
	count   int
	up      int
}

func (w *uptimeWindow) add(up bool) {
	if w.count == len(w.results) {
		if w.results[w.next] {
			w.up--
		}
	} else {
		w.count++
	}
	w.results[w.next] = up
	if up {
		w.up++
	}
	w.next = (w.next + 1) % len(w.results)
}

func (w *uptimeWindow) percent() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.up) / float64(w.count) * 100
}
