package config

// Config is the on-disk configuration. All durations are Go duration strings
// ("500ms", "30s", "5m"); empty values select the component default.
type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	HTTP          HTTPConfig          `json:"http"`
	Storage       StorageConfig       `json:"storage"`
	Cache         CacheConfig         `json:"cache"`
	History       HistoryConfig       `json:"history"`
	Notifications NotificationsConfig `json:"notifications"`
	Alerts        AlertsConfig        `json:"alerts"`
	Probes        ProbesConfig        `json:"probes"`
	Forward       *ForwardConfig      `json:"forward,omitempty"`
	Pprof         PprofConfig         `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the dashboard API listener.
type HTTPConfig struct {
	Addr            string `json:"addr"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	// Refresh limits POST /v1/refresh (token bucket).
	RefreshPerMinute float64 `json:"refresh_per_minute,omitempty"` // default 6
	RefreshBurst     int     `json:"refresh_burst,omitempty"`      // default 2
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pewdash.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver"` // none | memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	IOTimeout   string `json:"io_timeout,omitempty"`   // per operation, default 250ms
}

// CacheConfig overrides freshness windows.
type CacheConfig struct {
	MetricsWindow    string `json:"metrics_window,omitempty"`    // default 60s
	ServicesWindow   string `json:"services_window,omitempty"`   // default 30s
	ContainersWindow string `json:"containers_window,omitempty"` // default 30s
}

type HistoryConfig struct {
	Capacity    int    `json:"capacity,omitempty"`     // default 288
	MinInterval string `json:"min_interval,omitempty"` // default 5m
}

type NotificationsConfig struct {
	Capacity int `json:"capacity,omitempty"` // default 50
}

// AlertsConfig is hot-reloadable. Thresholds are percentages; 0 selects 90.
type AlertsConfig struct {
	CPUThreshold    float64 `json:"cpu_threshold,omitempty"`
	MemoryThreshold float64 `json:"memory_threshold,omitempty"`
	DiskThreshold   float64 `json:"disk_threshold,omitempty"`
	NotifyRecovery  bool    `json:"notify_recovery,omitempty"`
}

type ProbesConfig struct {
	Timezone string             `json:"timezone,omitempty"` // for cron schedules
	Host     HostProbeConfig    `json:"host"`
	Services ServiceProbeConfig `json:"services"`
}

// HostProbeConfig: Enabled is a pointer so an omitted value defaults to true.
type HostProbeConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // default "30s"
	Timeout  string `json:"timeout,omitempty"`
	ProcRoot string `json:"proc_root,omitempty"`
	DiskPath string `json:"disk_path,omitempty"`
}

func (h HostProbeConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

type ServiceProbeConfig struct {
	Schedule    string          `json:"schedule,omitempty"` // default "30s"
	Timeout     string          `json:"timeout,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
	UseDBus     *bool           `json:"use_dbus,omitempty"` // default true; false shells out to systemctl
	Targets     []ServiceTarget `json:"targets"`
}

type ServiceTarget struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Type          string `json:"type"` // http | systemd
	URL           string `json:"url,omitempty"`
	Unit          string `json:"unit,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	DegradedAfter string `json:"degraded_after,omitempty"`
}

// ForwardConfig controls delivery of new notifications to Telegram.
type ForwardConfig struct {
	Enabled       bool           `json:"enabled"`
	MinKind       string         `json:"min_kind,omitempty"` // info | success | warning | error
	RatePerSec    float64        `json:"rate_per_sec,omitempty"`
	QueueSize     int            `json:"queue_size,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	DedupWindow   string         `json:"dedup_window,omitempty"`
	Telegram      TelegramTarget `json:"telegram"`
}

type TelegramTarget struct {
	Token    string `json:"token"` // never logged
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// PprofConfig controls the optional pprof listener.
//
// Prefer binding to localhost; the listener has no authentication.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
