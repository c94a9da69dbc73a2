// Package pprof runs the optional profiling listener. It can be switched on,
// off or moved to another address while the process runs.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "pewdash/internal/runtime/supervisor"
	logx "pewdash/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const DefaultAddr = "127.0.0.1:6060"

// ErrInsecureBind is returned when a non-loopback address is configured without AllowInsecure.
var ErrInsecureBind = errors.New("pprof: non-loopback addr requires allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listener address, or "" when stopped.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, restarting the listener when the address changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
		return nil
	case running && prev.Addr == cfg.Addr && prev.AllowInsecure == cfg.AllowInsecure:
		return nil
	case running:
		s.Stop(ctx)
	}
	return s.Start(ctx)
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start binds the listener and serves until Stop or ctx is done. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}
	applyRuntimeRates(s.cfg)

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !isLoopbackAddr(addr) {
		if !s.cfg.AllowInsecure {
			s.log.Error("pprof refused to start", logx.String("addr", addr), logx.Err(ErrInsecureBind))
			return ErrInsecureBind
		}
		s.log.Warn("pprof listening on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("pprof listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/debug", middleware.Profiler())
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup.Go("pprof.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("pprof.shutdown", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.String("hint", "http://"+ln.Addr().String()+"/debug/pprof/"))
	return nil
}

// Stop shuts the listener down, waiting at most until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("pprof stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("pprof stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
