package app

import (
	"fmt"
	"strings"
	"time"

	"pewdash/internal/alert"
	"pewdash/internal/cache"
	"pewdash/internal/config"
	"pewdash/internal/forward"
	"pewdash/internal/monitor"
	"pewdash/internal/observability/pprof"
	"pewdash/internal/probe"
	"pewdash/internal/storage"
	logx "pewdash/pkg/logx"
)

const (
	defaultProbeSchedule = "30s"
	defaultHTTPAddr      = ":8080"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapAlertConfig(cfg *config.Config) alert.Config {
	return alert.Config{
		CPUThreshold:    cfg.Alerts.CPUThreshold,
		MemoryThreshold: cfg.Alerts.MemoryThreshold,
		DiskThreshold:   cfg.Alerts.DiskThreshold,
		NotifyRecovery:  cfg.Alerts.NotifyRecovery,
	}
}

// mapMonitorOptions leaves Backend, Bus and Log for the caller.
func mapMonitorOptions(cfg *config.Config) (monitor.Options, error) {
	var opts monitor.Options
	var err error
	if opts.IOTimeout, err = config.ParseDurationField("storage.io_timeout", cfg.Storage.IOTimeout); err != nil {
		return opts, err
	}
	opts.Windows = map[cache.Kind]time.Duration{}
	for kind, raw := range map[cache.Kind]string{
		cache.KindMetrics:    cfg.Cache.MetricsWindow,
		cache.KindServices:   cfg.Cache.ServicesWindow,
		cache.KindContainers: cfg.Cache.ContainersWindow,
	} {
		d, err := config.ParseDurationOrDefault("cache."+string(kind)+"_window", raw, cache.DefaultWindow(kind))
		if err != nil {
			return opts, err
		}
		opts.Windows[kind] = d
	}
	opts.HistoryCapacity = cfg.History.Capacity
	if opts.HistoryInterval, err = config.ParseDurationField("history.min_interval", cfg.History.MinInterval); err != nil {
		return opts, err
	}
	opts.NotificationCapacity = cfg.Notifications.Capacity
	opts.Alerts = mapAlertConfig(cfg)
	return opts, nil
}

func mapServiceTargets(cfg *config.Config) ([]probe.Target, error) {
	out := make([]probe.Target, 0, len(cfg.Probes.Services.Targets))
	for i, t := range cfg.Probes.Services.Targets {
		p := fmt.Sprintf("probes.services.targets[%d]", i)
		timeout, err := config.ParseDurationField(p+".timeout", t.Timeout)
		if err != nil {
			return nil, err
		}
		degraded, err := config.ParseDurationField(p+".degraded_after", t.DegradedAfter)
		if err != nil {
			return nil, err
		}
		out = append(out, probe.Target{
			ID:            strings.TrimSpace(t.ID),
			Name:          strings.TrimSpace(t.Name),
			Kind:          probe.TargetKind(strings.ToLower(strings.TrimSpace(t.Type))),
			URL:           strings.TrimSpace(t.URL),
			DegradedAfter: degraded,
			Unit:          strings.TrimSpace(t.Unit),
			Timeout:       timeout,
		})
	}
	return out, nil
}

// mapForwardConfig reports false when forwarding is off or unconfigured.
func mapForwardConfig(cfg *config.Config) (forward.Config, forward.TelegramConfig, bool, error) {
	f := cfg.Forward
	if f == nil || !f.Enabled {
		return forward.Config{}, forward.TelegramConfig{}, false, nil
	}
	fc := forward.Config{
		Enabled:    true,
		MinKind:    strings.ToLower(strings.TrimSpace(f.MinKind)),
		QueueSize:  f.QueueSize,
		RatePerSec: f.RatePerSec,
		RetryMax:   f.RetryMax,
	}
	var err error
	if fc.RetryBase, err = config.ParseDurationField("forward.retry_base", f.RetryBase); err != nil {
		return fc, forward.TelegramConfig{}, false, err
	}
	if fc.RetryMaxDelay, err = config.ParseDurationField("forward.retry_max_delay", f.RetryMaxDelay); err != nil {
		return fc, forward.TelegramConfig{}, false, err
	}
	if fc.DedupWindow, err = config.ParseDurationField("forward.dedup_window", f.DedupWindow); err != nil {
		return fc, forward.TelegramConfig{}, false, err
	}
	tc := forward.TelegramConfig{
		Token:    strings.TrimSpace(f.Telegram.Token),
		ChatID:   f.Telegram.ChatID,
		ThreadID: f.Telegram.ThreadID,
		APIURL:   strings.TrimSpace(f.Telegram.APIURL),
	}
	return fc, tc, true, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:              cfg.Pprof.Enabled,
		Addr:                 strings.TrimSpace(cfg.Pprof.Addr),
		AllowInsecure:        cfg.Pprof.AllowInsecure,
		MutexProfileFraction: cfg.Pprof.MutexProfileFraction,
		BlockProfileRate:     cfg.Pprof.BlockProfileRate,
	}
}

type httpSettings struct {
	addr                  string
	read, write, shutdown time.Duration
	refreshPerMinute      float64
	refreshBurst          int
}

func mapHTTPConfig(cfg *config.Config) (httpSettings, error) {
	h := httpSettings{
		addr:             strings.TrimSpace(cfg.HTTP.Addr),
		refreshPerMinute: cfg.HTTP.RefreshPerMinute,
		refreshBurst:     cfg.HTTP.RefreshBurst,
	}
	if h.addr == "" {
		h.addr = defaultHTTPAddr
	}
	var err error
	if h.read, err = config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second); err != nil {
		return h, err
	}
	if h.write, err = config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 45*time.Second); err != nil {
		return h, err
	}
	if h.shutdown, err = config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second); err != nil {
		return h, err
	}
	return h, nil
}

func scheduleOrDefault(raw string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return defaultProbeSchedule
}
