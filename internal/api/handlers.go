// Package api is the operator surface: queue inspection, manual dispatch,
// distribution rule management and scheduler control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lendfield/rcs-dispatch/internal/dispatch"
	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/rules"
	"github.com/lendfield/rcs-dispatch/internal/scheduler"
)

type Dispatcher interface {
	Tick(ctx context.Context) (dispatch.Stats, error)
	RescheduleFailed(ctx context.Context, maxAttempts int) (int, error)
}

type Handler struct {
	queue repo.Queue
	rules rules.Store
	disp  Dispatcher
	sched *scheduler.Scheduler
}

func NewHandler(queue repo.Queue, ruleStore rules.Store, disp Dispatcher, sched *scheduler.Scheduler) *Handler {
	return &Handler{
		queue: queue,
		rules: ruleStore,
		disp:  disp,
		sched: sched,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	stats, err := h.disp.Tick(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) RescheduleFailed(w http.ResponseWriter, r *http.Request) {
	// The body is optional; an absent maxAttempts keeps the configured bound.
	var req struct {
		MaxAttempts int `json:"maxAttempts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	n, err := h.disp.RescheduleFailed(r.Context(), req.MaxAttempts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rescheduled": n})
}

func (h *Handler) LeadEntries(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	items, err := h.queue.FindByLead(r.Context(), leadID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CancelLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	n, err := h.queue.CancelByLead(r.Context(), leadID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	items, err := h.rules.ListRules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.DistributionRule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) SourceConfig(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	rule, err := h.rules.ActiveRule(r.Context(), source)
	switch {
	case errors.Is(err, rules.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) PutSourceConfig(w http.ResponseWriter, r *http.Request) {
	var rule model.DistributionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	// The path is authoritative for the source name.
	rule.Source = chi.URLParam(r, "source")

	if err := h.rules.PutRule(r.Context(), rule); err != nil {
		if errors.Is(err, rules.ErrInvalidRule) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, h.sched.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
