package forward

import (
	"context"
	"time"
)

// Config controls the notification forwarder.
type Config struct {
	Enabled bool

	// MinKind drops notifications below this severity (info < success < warning < error).
	MinKind string

	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration

	// DedupWindow suppresses identical text within the window; 0 disables.
	DedupWindow time.Duration
}

// Sender delivers one rendered message.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// Status is reported on the health endpoint.
type Status struct {
	Enabled bool      `json:"enabled"`
	Sent    uint64    `json:"sent"`
	Failed  uint64    `json:"failed"`
	Dropped uint64    `json:"dropped"`
	Deduped uint64    `json:"deduped"`
	LastErr string    `json:"lastError,omitempty"`
	LastAt  time.Time `json:"lastSentAt,omitempty"`
}
