package httpapi

import (
	"context"
	"net/http"
	"time"

	"pewdash/internal/monitor"
	logx "pewdash/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Refresher runs every probe job immediately. scheduler.Service satisfies it.
type Refresher interface {
	RunAll(ctx context.Context) map[string]error
}

type Options struct {
	Core      *monitor.Core
	Refresher Refresher // nil disables POST /v1/refresh

	// Health returns extra fields for GET /healthz.
	Health func() map[string]any

	// RefreshPerMinute and RefreshBurst shape the refresh token bucket.
	RefreshPerMinute float64 // default 6
	RefreshBurst     int     // default 2
	RefreshTimeout   time.Duration

	Log logx.Logger
	Now func() time.Time
}

type Handler struct {
	core      *monitor.Core
	refresher Refresher
	health    func() map[string]any
	limiter   *rate.Limiter
	timeout   time.Duration
	log       logx.Logger
	now       func() time.Time
	started   time.Time
}

func NewHandler(opts Options) *Handler {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshPerMinute <= 0 {
		opts.RefreshPerMinute = 6
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 2
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	return &Handler{
		core:      opts.Core,
		refresher: opts.Refresher,
		health:    opts.Health,
		limiter:   rate.NewLimiter(rate.Limit(opts.RefreshPerMinute/60), opts.RefreshBurst),
		timeout:   opts.RefreshTimeout,
		log:       opts.Log.With(logx.String("comp", "httpapi")),
		now:       opts.Now,
		started:   opts.Now(),
	}
}

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverMiddleware(h.log))
	r.Use(loggingMiddleware(h.log))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", h.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache", h.listCacheKinds)
		r.Get("/cache/{kind}", h.getCache)
		r.Get("/history", h.getHistory)
		r.Get("/services/status", h.getServiceStatuses)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listNotifications)
			r.Post("/", h.createNotification)
			r.Delete("/", h.clearNotifications)
			r.Post("/read-all", h.markAllRead)
			r.Post("/{id}/read", h.markRead)
		})

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/metrics", h.ingestMetrics)
			r.Post("/services", h.ingestServices)
			r.Post("/containers", h.ingestContainers)
		})

		r.Post("/refresh", h.refresh)
	})
	return r
}
