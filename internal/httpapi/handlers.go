package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pewdash/internal/cache"
	"pewdash/internal/notifylog"
	"pewdash/internal/probe"
	logx "pewdash/pkg/logx"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryHours      = 24
	defaultNotificationLimit = 50
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{
		"status":    "ok",
		"uptimeSec": int64(h.now().Sub(h.started).Seconds()),
	}
	if h.health != nil {
		for k, v := range h.health() {
			out[k] = v
		}
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) listCacheKinds(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"kinds": h.core.CacheKinds()})
}

func (h *Handler) getCache(w http.ResponseWriter, r *http.Request) {
	kind := cache.Kind(strings.ToLower(chi.URLParam(r, "kind")))
	v, ok, err := h.core.CacheView(r.Context(), kind)
	if errors.Is(err, cache.ErrUnknownKind) {
		writeError(w, http.StatusNotFound, "UNKNOWN_KIND", fmt.Sprintf("unknown cache kind %q", kind))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NO_DATA", fmt.Sprintf("no %s data collected yet", kind))
		return
	}
	writeSuccess(w, http.StatusOK, v)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	hours := float64(defaultHistoryHours)
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "hours must be a non-negative number")
			return
		}
		hours = v
	}
	writeSuccess(w, http.StatusOK, map[string]any{"points": h.core.History(hours)})
}

func (h *Handler) getServiceStatuses(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"statuses": h.core.ServiceStatuses()})
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := defaultNotificationLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = v
	}
	items, unread := h.core.Notifications(limit)
	writeSuccess(w, http.StatusOK, map[string]any{"items": items, "unreadCount": unread})
}

func (h *Handler) createNotification(w http.ResponseWriter, r *http.Request) {
	var d notifylog.Draft
	if !decodeBody(w, r, &d) {
		return
	}
	d.Kind = notifylog.Kind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
	n, err := h.core.Notify(r.Context(), d)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	writeSuccess(w, http.StatusCreated, n)
}

func (h *Handler) clearNotifications(w http.ResponseWriter, r *http.Request) {
	h.core.ClearNotifications(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	updated := h.core.MarkRead(r.Context(), chi.URLParam(r, "id"))
	writeSuccess(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	n := h.core.MarkAllRead(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{"updated": n})
}

func (h *Handler) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	var m probe.Metrics
	if !decodeBody(w, r, &m) {
		return
	}
	if m.CPU < 0 || m.CPU > 100 || m.Memory.Percent < 0 || m.Memory.Percent > 100 || m.Disk.Percent < 0 || m.Disk.Percent > 100 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "percentages must be within [0,100]")
		return
	}
	writeSuccess(w, http.StatusAccepted, h.core.IngestMetrics(r.Context(), m))
}

func (h *Handler) ingestServices(w http.ResponseWriter, r *http.Request) {
	var records []probe.Service
	if !decodeBody(w, r, &records) {
		return
	}
	for i := range records {
		if strings.TrimSpace(records[i].ID) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("services[%d].id is required", i))
			return
		}
		st, err := probe.ParseStatus(string(records[i].Status))
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("services[%d]: %v", i, err))
			return
		}
		records[i].Status = st
	}
	notes := h.core.IngestServices(r.Context(), records)
	writeSuccess(w, http.StatusAccepted, map[string]any{"accepted": len(records), "notifications": notes})
}

func (h *Handler) ingestContainers(w http.ResponseWriter, r *http.Request) {
	var records []probe.Container
	if !decodeBody(w, r, &records) {
		return
	}
	h.core.IngestContainers(r.Context(), records)
	writeSuccess(w, http.StatusAccepted, map[string]any{"accepted": len(records)})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no probes configured")
		return
	}
	if !h.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "refresh requested too often")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()
	errs := h.refresher.RunAll(ctx)
	jobs := make(map[string]string, len(errs))
	failed := 0
	for name, err := range errs {
		if err != nil {
			jobs[name] = err.Error()
			failed++
			continue
		}
		jobs[name] = "ok"
	}
	h.log.Info("manual refresh",
		logx.Int("jobs", len(jobs)),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	)
	writeSuccess(w, http.StatusOK, map[string]any{"jobs": jobs})
}
