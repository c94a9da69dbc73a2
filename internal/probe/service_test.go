package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pewdash/pkg/systemdmanager"
)

type fakeUnits map[string]systemdmanager.UnitState

func (f fakeUnits) StateContext(ctx context.Context, name string) (*systemdmanager.UnitState, error) {
	st, ok := f[name]
	if !ok {
		return nil, errors.New("dbus: connection reset")
	}
	return &st, nil
}

func TestServiceProbeHTTPAndSystemd(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	mux.HandleFunc("/teapot", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	units := fakeUnits{
		"nginx":  {Name: "nginx", Active: "active", SubState: "running", LoadState: "loaded"},
		"worker": {Name: "worker", Active: "failed", SubState: "failed", LoadState: "loaded"},
		"ghost":  {Name: "ghost", Active: "unknown", LoadState: "not-found"},
	}
	p := NewServiceProbe(ServiceOptions{
		Units: units,
		Targets: []Target{
			{ID: "api", Name: "API", Kind: TargetHTTP, URL: srv.URL + "/ok"},
			{ID: "gw", Kind: TargetHTTP, URL: srv.URL + "/boom"},
			{ID: "tea", Kind: TargetHTTP, URL: srv.URL + "/teapot"},
			{ID: "down", Kind: TargetHTTP, URL: "http://127.0.0.1:1/", Timeout: time.Second},
			{ID: "nginx", Kind: TargetSystemd},
			{ID: "jobs", Kind: TargetSystemd, Unit: "worker"},
			{ID: "ghost", Kind: TargetSystemd},
			{ID: "dbus", Kind: TargetSystemd, Unit: "missing-from-fake"},
			{ID: "odd", Kind: "ftp"},
		},
	})

	got, err := p.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Status{
		"api":   StatusOnline,
		"gw":    StatusOffline,
		"tea":   StatusDegraded,
		"down":  StatusOffline,
		"nginx": StatusOnline,
		"jobs":  StatusOffline,
		"ghost": StatusOffline,
		"dbus":  StatusUnknown,
		"odd":   StatusUnknown,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d results", len(got))
	}
	for _, s := range got {
		if s.Status != want[s.ID] {
			t.Fatalf("%s status = %s, want %s (detail %q)", s.ID, s.Status, want[s.ID], s.Detail)
		}
		if s.UptimePercent == nil {
			t.Fatalf("%s missing uptime", s.ID)
		}
	}
	if got[0].ResponseTimeMs == nil || got[0].Name != "API" {
		t.Fatalf("api result = %+v", got[0])
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code    int
		elapsed time.Duration
		slow    time.Duration
		want    Status
	}{
		{200, 10 * time.Millisecond, 0, StatusOnline},
		{301, 10 * time.Millisecond, 0, StatusOnline},
		{200, 900 * time.Millisecond, 500 * time.Millisecond, StatusDegraded},
		{200, 500 * time.Millisecond, 500 * time.Millisecond, StatusOnline},
		{404, 10 * time.Millisecond, 0, StatusDegraded},
		{503, 10 * time.Millisecond, 0, StatusOffline},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.code, tc.elapsed, tc.slow); got != tc.want {
			t.Fatalf("httpStatus(%d, %v, %v) = %s, want %s", tc.code, tc.elapsed, tc.slow, got, tc.want)
		}
	}
}

func TestUnitStatusMapping(t *testing.T) {
	t.Parallel()
	cases := map[string]Status{
		"active":       StatusOnline,
		"activating":   StatusDegraded,
		"reloading":    StatusDegraded,
		"deactivating": StatusDegraded,
		"failed":       StatusOffline,
		"inactive":     StatusOffline,
		"maintenance":  StatusUnknown,
	}
	for in, want := range cases {
		if got := unitStatus(in); got != want {
			t.Fatalf("unitStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestUptimeWindowRolls(t *testing.T) {
	t.Parallel()
	var w uptimeWindow
	if w.percent() != 0 {
		t.Fatal("empty window must be 0")
	}
	for i := 0; i < uptimeWindowSize; i++ {
		w.add(false)
	}
	for i := 0; i < 25; i++ {
		w.add(true)
	}
	if got := w.percent(); got != 25 {
		t.Fatalf("percent = %v, want 25", got)
	}
}

func TestServiceProbeCanceled(t *testing.T) {
	t.Parallel()
	p := NewServiceProbe(ServiceOptions{Targets: []Target{{ID: "x", Kind: TargetSystemd}}, Units: fakeUnits{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Collect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	if st, err := ParseStatus(" Online "); err != nil || st != StatusOnline {
		t.Fatalf("ParseStatus = %s, %v", st, err)
	}
	if st, err := ParseStatus("sleepy"); err == nil || st != StatusUnknown {
		t.Fatalf("ParseStatus(sleepy) = %s, %v", st, err)
	}
}
