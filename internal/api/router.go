package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)

	r.Get("/v1/health", h.Health)

	r.Get("/v1/queue/stats", h.QueueStats)
	r.Post("/v1/queue/reschedule", h.RescheduleFailed)
	r.Post("/v1/dispatch/run", h.RunDispatch)

	r.Get("/v1/leads/{leadID}/entries", h.LeadEntries)
	r.Post("/v1/leads/{leadID}/cancel", h.CancelLead)

	r.Get("/v1/sources", h.ListSources)
	r.Get("/v1/sources/{source}/config", h.SourceConfig)
	r.Put("/v1/sources/{source}/config", h.PutSourceConfig)

	r.Get("/v1/scheduler", h.SchedulerStatus)
	r.Post("/v1/scheduler/start", h.SchedulerStart)
	r.Post("/v1/scheduler/stop", h.SchedulerStop)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("rcs-dispatch"))
	})

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
