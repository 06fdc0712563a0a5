package cli

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Swind/go-uthread/core"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter serves Prometheus metrics from gatherer and scheduler state from s.
//
//	GET /metrics     Prometheus exposition
//	GET /healthz     scheduler stats snapshot
//	GET /dispatches  recent dispatch records, newest first (?limit=N)
func NewRouter(s *core.Scheduler, gatherer prom.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(logger))

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := s.Stats()
		status := "ok"
		if stats.Closed {
			status = "closed"
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status": status,
			"stats":  stats,
		})
	})
	r.Get("/dispatches", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				respondJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		respondJSON(w, http.StatusOK, s.RecentDispatches(limit))
	})

	return r
}

// loggingMiddleware logs HTTP requests at DEBUG level.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
