// Package forward pushes newly created notifications to an external chat.
package forward

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pewdash/internal/eventbus"
	"pewdash/internal/notifylog"
	logx "pewdash/pkg/logx"
)

var ErrDisabled = errors.New("forwarder disabled")

// Forwarder subscribes to notification.created events and delivers them through a
// Sender with rate limiting and bounded retry. Delivery is best-effort.
type Forwarder struct {
	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	minRank int

	sent, failed, dropped, deduped atomic.Uint64
	subscribed                     atomic.Bool

	mu      sync.Mutex
	lastErr string
	lastAt  time.Time
	dedup   map[uint64]time.Time
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Forwarder{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		minRank: kindRank(notifylog.Kind(strings.ToLower(cfg.MinKind))),
		dedup:   map[uint64]time.Time{},
	}
}

// Run forwards until ctx ends. The returned error is nil on shutdown.
func (f *Forwarder) Run(ctx context.Context) error {
	if !f.cfg.Enabled || f.sender == nil || f.bus == nil {
		return ErrDisabled
	}
	events, unsub := f.bus.Subscribe(f.cfg.QueueSize)
	defer unsub()
	f.subscribed.Store(true)
	defer f.subscribed.Store(false)

	queue := make(chan string, f.cfg.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-queue:
				f.sendWithRetry(ctx, text)
			}
		}
	}()
	defer wg.Wait()

	f.log.Info("forwarder started", logx.Float64("rate_per_sec", f.cfg.RatePerSec))
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != eventbus.TypeNotificationCreated {
				continue
			}
			n, ok := e.Data.(notifylog.Notification)
			if !ok || kindRank(n.Kind) < f.minRank {
				continue
			}
			text := Render(n)
			if !f.dedupAllow(text, time.Now()) {
				f.deduped.Add(1)
				continue
			}
			select {
			case queue <- text:
			default:
				f.dropped.Add(1)
				f.log.Warn("forward queue full; dropping", logx.String("id", n.ID))
			}
		}
	}
}

func (f *Forwarder) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Enabled: f.cfg.Enabled,
		Sent:    f.sent.Load(),
		Failed:  f.failed.Load(),
		Dropped: f.dropped.Load(),
		Deduped: f.deduped.Load(),
		LastErr: f.lastErr,
		LastAt:  f.lastAt,
	}
}

func (f *Forwarder) sendWithRetry(ctx context.Context, text string) {
	attempts := 1 + f.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.SendTimeout)
		err := f.sender.SendText(callCtx, text)
		cancel()
		if err == nil {
			f.sent.Add(1)
			f.mu.Lock()
			f.lastAt = time.Now()
			f.mu.Unlock()
			return
		}
		lastErr = err
		f.log.Debug("forward send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(f.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	f.failed.Add(1)
	f.mu.Lock()
	f.lastErr = lastErr.Error()
	f.mu.Unlock()
	f.log.Warn("forward gave up", logx.Int("attempts", attempts), logx.Err(lastErr))
}

func (f *Forwarder) dedupAllow(text string, now time.Time) bool {
	if f.cfg.DedupWindow <= 0 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	key := h.Sum64()

	f.mu.Lock()
	defer f.mu.Unlock()
	if until, ok := f.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range f.dedup {
		if !now.Before(until) {
			delete(f.dedup, k)
		}
	}
	f.dedup[key] = now.Add(f.cfg.DedupWindow)
	return true
}

// Render formats a notification as chat text.
func Render(n notifylog.Notification) string {
	var b strings.Builder
	b.WriteString(prefixForKind(n.Kind))
	b.WriteString(n.Title)
	if msg := strings.TrimSpace(n.Message); msg != "" {
		b.WriteString("\n")
		b.WriteString(msg)
	}
	return b.String()
}

func prefixForKind(k notifylog.Kind) string {
	switch k {
	case notifylog.KindError:
		return "🚨 "
	case notifylog.KindWarning:
		return "⚠️ "
	case notifylog.KindSuccess:
		return "✅ "
	default:
		return "ℹ️ "
	}
}

func kindRank(k notifylog.Kind) int {
	switch k {
	case notifylog.KindSuccess:
		return 1
	case notifylog.KindWarning:
		return 2
	case notifylog.KindError:
		return 3
	default:
		return 0
	}
}

// retryDelay is the jittered exponential delay before attempt+1.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
