package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"pewdash/internal/config"
	"pewdash/internal/eventbus"
	"pewdash/internal/forward"
	"pewdash/internal/httpapi"
	"pewdash/internal/monitor"
	"pewdash/internal/observability/pprof"
	"pewdash/internal/probe"
	"pewdash/internal/runtime/supervisor"
	"pewdash/internal/scheduler"
	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
	"pewdash/pkg/systemdmanager"
)

const (
	jobHost     = "probe.host"
	jobServices = "probe.services"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	units *systemdmanager.Manager

	core  *monitor.Core
	sched *scheduler.Service
	fwd   *forward.Forwarder
	pprof *pprof.Service

	httpCfg httpSettings
	srv     *http.Server
	ln      net.Listener
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	mopts, err := mapMonitorOptions(cfg)
	if err != nil {
		return nil, err
	}
	mopts.Backend = a.store
	mopts.Bus = a.bus
	mopts.Log = log
	a.core = monitor.New(mopts)

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Probes.Timezone}, log.With(logx.String("comp", "scheduler")))
	if err := a.registerProbes(cfg, log); err != nil {
		return nil, err
	}

	if fc, tc, enabled, err := mapForwardConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		sender, err := forward.NewTelegramSender(tc)
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		a.fwd = forward.New(fc, sender, a.bus, log.With(logx.String("comp", "forward")))
	}

	a.pprof = pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))

	if a.httpCfg, err = mapHTTPConfig(cfg); err != nil {
		return nil, err
	}
	var refresher httpapi.Refresher
	if len(a.sched.Snapshot()) > 0 {
		refresher = a.sched
	}
	h := httpapi.NewHandler(httpapi.Options{
		Core:             a.core,
		Refresher:        refresher,
		Health:           a.health,
		RefreshPerMinute: a.httpCfg.refreshPerMinute,
		RefreshBurst:     a.httpCfg.refreshBurst,
		Log:              log,
	})
	a.srv = &http.Server{
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.httpCfg.read,
		WriteTimeout:      a.httpCfg.write,
	}
	return a, nil
}

func (a *App) registerProbes(cfg *config.Config, log logx.Logger) error {
	if host := cfg.Probes.Host; host.IsEnabled() {
		timeout, err := config.ParseDurationField("probes.host.timeout", host.Timeout)
		if err != nil {
			return err
		}
		hp := probe.NewHostProbe(probe.HostConfig{ProcRoot: host.ProcRoot, DiskPath: host.DiskPath})
		if err := a.sched.Add(scheduler.Job{
			Name:       jobHost,
			Schedule:   scheduleOrDefault(host.Schedule),
			Timeout:    timeout,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				m, err := hp.Collect(ctx)
				if err != nil {
					a.probeFailed(jobHost, err)
					return err
				}
				a.core.IngestMetrics(ctx, m)
				return nil
			},
		}); err != nil {
			return err
		}
	}

	sp := cfg.Probes.Services
	if len(sp.Targets) == 0 {
		return nil
	}
	targets, err := mapServiceTargets(cfg)
	if err != nil {
		return err
	}
	timeout, err := config.ParseDurationField("probes.services.timeout", sp.Timeout)
	if err != nil {
		return err
	}
	var units probe.UnitStater
	if sp.UseDBus == nil || *sp.UseDBus {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		m, err := systemdmanager.NewContext(ctx, 2*time.Second)
		cancel()
		if err != nil {
			a.log.Warn("systemd dbus unavailable; falling back to systemctl", logx.Err(err))
		} else {
			a.units = m
			units = m
		}
	}
	svc := probe.NewServiceProbe(probe.ServiceOptions{
		Targets:     targets,
		Units:       units,
		Concurrency: sp.Concurrency,
		Log:         log.With(logx.String("comp", "probe")),
	})
	return a.sched.Add(scheduler.Job{
		Name:       jobServices,
		Schedule:   scheduleOrDefault(sp.Schedule),
		Timeout:    timeout,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			records, err := svc.Collect(ctx)
			if err != nil {
				a.probeFailed(jobServices, err)
				return err
			}
			a.core.IngestServices(ctx, records)
			return nil
		},
	})
}

func (a *App) probeFailed(job string, err error) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeProbeFailed, Data: job + ": " + err.Error()})
}

func (a *App) Core() *monitor.Core { return a.core }

// Addr is the bound API address, or "" before Start.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"jobs":          a.sched.Snapshot(),
		"eventsDropped": eventbus.Dropped(a.bus),
		"storage":       a.store != nil,
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Counters()
	}
	if a.fwd != nil {
		out["forward"] = a.fwd.Status()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	restoreCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	a.core.Restore(restoreCtx)
	cancel()

	ln, err := net.Listen("tcp", a.httpCfg.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", a.httpCfg.addr, err)
	}
	a.ln = ln
	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.fwd != nil {
		a.sup.GoRestart("forward", a.fwd.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}
	if a.pprof.Enabled() {
		if err := a.pprof.Start(a.sup.Context()); err != nil {
			a.log.Warn("pprof not started", logx.Err(err))
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.TypeProbeFailed {
					a.log.Warn("probe failed", logx.Any("detail", e.Data))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// restartOnly lists sections whose changes need a process restart.
var restartOnly = map[string]bool{
	"http": true, "storage": true, "cache": true, "history": true,
	"notifications": true, "probes": true, "forward": true,
}

// applyConfig hot-applies logging, alert thresholds and pprof.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	a.logs.Apply(mapLogConfig(next))
	a.core.ApplyAlerts(mapAlertConfig(next))
	if err := a.pprof.Reconfigure(ctx, mapPprofConfig(next)); err != nil {
		a.log.Warn("pprof reconfigure failed", logx.Err(err))
	}
	var pending []string
	for _, s := range strings.Split(config.SummarizeChange(prev, next), ",") {
		if restartOnly[s] {
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", a.httpCfg.shutdown, func(c context.Context) error { return a.srv.Shutdown(c) })
	a.sup.Cancel()
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.closeResources()
	return nil
}

func (a *App) closeResources() {
	if a.units != nil {
		_ = a.units.Close()
		a.units = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}
