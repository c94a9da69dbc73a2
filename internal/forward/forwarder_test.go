package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pewdash/internal/eventbus"
	"pewdash/internal/notifylog"
	logx "pewdash/pkg/logx"
)

type recordingSender struct {
	mu       sync.Mutex
	texts    []string
	failures int
}

func (r *recordingSender) SendText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("telegram: 502 bad gateway")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func startForwarder(t *testing.T, cfg Config, s Sender) (eventbus.Bus, *Forwarder) {
	t.Helper()
	bus := eventbus.New()
	f := New(cfg, s, bus, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run subscribes asynchronously; wait until it is listening.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.subscribed.Load() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	return bus, f
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func created(kind notifylog.Kind, title string) eventbus.Event {
	return eventbus.Event{
		Type: eventbus.TypeNotificationCreated,
		Data: notifylog.Notification{ID: "n-" + title, Kind: kind, Title: title, Message: "details"},
	}
}

func TestForwardsAndFilters(t *testing.T) {
	t.Parallel()
	s := &recordingSender{}
	bus, _ := startForwarder(t, Config{Enabled: true, MinKind: "warning", RatePerSec: 100}, s)

	bus.Publish(created(notifylog.KindInfo, "Deploy"))
	bus.Publish(eventbus.Event{Type: eventbus.TypeCacheUpdated})
	bus.Publish(created(notifylog.KindError, "Service Offline"))

	waitUntil(t, func() bool { return len(s.got()) == 1 })
	if got := s.got()[0]; got != "🚨 Service Offline\ndetails" {
		t.Fatalf("text = %q", got)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()
	s := &recordingSender{failures: 2}
	bus, f := startForwarder(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, s)
	bus.Publish(created(notifylog.KindWarning, "High CPU Usage"))

	waitUntil(t, func() bool { return f.Status().Sent == 1 })
	if st := f.Status(); st.Failed != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestGiveUpAfterRetries(t *testing.T) {
	t.Parallel()
	s := &recordingSender{failures: 10}
	bus, f := startForwarder(t, Config{Enabled: true, RatePerSec: 100, RetryMax: 1, RetryBase: time.Millisecond}, s)
	bus.Publish(created(notifylog.KindError, "High Disk Usage"))

	waitUntil(t, func() bool { return f.Status().Failed == 1 })
	if st := f.Status(); st.LastErr == "" || st.Sent != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	s := &recordingSender{}
	bus, f := startForwarder(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Hour}, s)
	bus.Publish(created(notifylog.KindWarning, "High CPU Usage"))
	bus.Publish(created(notifylog.KindWarning, "High CPU Usage"))
	bus.Publish(created(notifylog.KindWarning, "High Memory Usage"))

	waitUntil(t, func() bool { return len(s.got()) == 2 && f.Status().Deduped == 1 })
}

func TestRunDisabled(t *testing.T) {
	t.Parallel()
	f := New(Config{}, &recordingSender{}, eventbus.New(), logx.Nop())
	if err := f.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(raw, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	s, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL, Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SendText(context.Background(), "⚠️ High CPU Usage"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "/sendMessage") {
		t.Fatalf("path = %q", path)
	}
	if body["text"] != "⚠️ High CPU Usage" {
		t.Fatalf("body = %v", body)
	}
}

func TestNewTelegramSenderValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegramSender(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("expected token error")
	}
	if _, err := NewTelegramSender(TelegramConfig{Token: "x", Offline: true}); err == nil {
		t.Fatal("expected chat id error")
	}
}
