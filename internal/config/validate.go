package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pewdash/internal/notifylog"
	"pewdash/internal/scheduler"
)

// Validate checks cross-field constraints that JSON decoding cannot express.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	sched := func(path, raw string) {
		if strings.TrimSpace(raw) == "" {
			return
		}
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	if cfg.HTTP.RefreshPerMinute < 0 || cfg.HTTP.RefreshBurst < 0 {
		add(errors.New("http: refresh_per_minute and refresh_burst must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("storage.io_timeout", cfg.Storage.IOTimeout)

	dur("cache.metrics_window", cfg.Cache.MetricsWindow)
	dur("cache.services_window", cfg.Cache.ServicesWindow)
	dur("cache.containers_window", cfg.Cache.ContainersWindow)

	if cfg.History.Capacity < 0 {
		add(errors.New("history.capacity must be >= 0"))
	}
	dur("history.min_interval", cfg.History.MinInterval)
	if cfg.Notifications.Capacity < 0 {
		add(errors.New("notifications.capacity must be >= 0"))
	}

	for name, v := range map[string]float64{
		"alerts.cpu_threshold":    cfg.Alerts.CPUThreshold,
		"alerts.memory_threshold": cfg.Alerts.MemoryThreshold,
		"alerts.disk_threshold":   cfg.Alerts.DiskThreshold,
	} {
		if v < 0 || v > 100 {
			add(fmt.Errorf("%s must be within [0,100], got %v", name, v))
		}
	}

	if tz := strings.TrimSpace(cfg.Probes.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("probes.timezone: %w", err))
		}
	}
	sched("probes.host.schedule", cfg.Probes.Host.Schedule)
	dur("probes.host.timeout", cfg.Probes.Host.Timeout)
	sched("probes.services.schedule", cfg.Probes.Services.Schedule)
	dur("probes.services.timeout", cfg.Probes.Services.Timeout)
	if cfg.Probes.Services.Concurrency < 0 {
		add(errors.New("probes.services.concurrency must be >= 0"))
	}
	seen := map[string]bool{}
	for i, t := range cfg.Probes.Services.Targets {
		p := fmt.Sprintf("probes.services.targets[%d]", i)
		id := strings.TrimSpace(t.ID)
		switch {
		case id == "":
			add(fmt.Errorf("%s.id is required", p))
		case seen[id]:
			add(fmt.Errorf("%s.id %q is duplicated", p, id))
		}
		seen[id] = true
		switch strings.ToLower(strings.TrimSpace(t.Type)) {
		case "http":
			u, err := url.Parse(strings.TrimSpace(t.URL))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(fmt.Errorf("%s.url must be an absolute http(s) URL", p))
			}
		case "systemd":
			if strings.TrimSpace(t.Unit) == "" {
				add(fmt.Errorf("%s.unit is required for systemd targets", p))
			}
		default:
			add(fmt.Errorf("%s.type: unknown type %q", p, t.Type))
		}
		dur(p+".timeout", t.Timeout)
		dur(p+".degraded_after", t.DegradedAfter)
	}

	if f := cfg.Forward; f != nil {
		if k := strings.TrimSpace(f.MinKind); k != "" && !notifylog.Kind(strings.ToLower(k)).Valid() {
			add(fmt.Errorf("forward.min_kind: unknown kind %q", f.MinKind))
		}
		if f.Enabled {
			if strings.TrimSpace(f.Telegram.Token) == "" {
				add(errors.New("forward.telegram.token is required when forward is enabled"))
			}
			if f.Telegram.ChatID == 0 {
				add(errors.New("forward.telegram.chat_id is required when forward is enabled"))
			}
		}
		if f.RatePerSec < 0 || f.QueueSize < 0 || f.RetryMax < 0 {
			add(errors.New("forward: rate_per_sec, queue_size and retry_max must be >= 0"))
		}
		dur("forward.retry_base", f.RetryBase)
		dur("forward.retry_max_delay", f.RetryMaxDelay)
		dur("forward.dedup_window", f.DedupWindow)
	}

	if cfg.Pprof.BlockProfileRate < 0 || cfg.Pprof.MutexProfileFraction < 0 {
		add(errors.New("pprof: profile rates must be >= 0"))
	}
	return errors.Join(errs...)
}
