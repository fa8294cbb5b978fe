package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Seal1026/roosterProj/internal/cache"
	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/registry"
	"github.com/Seal1026/roosterProj/internal/repo"
	"github.com/Seal1026/roosterProj/internal/scheduler"
	"github.com/Seal1026/roosterProj/internal/service"
)

type Engine interface {
	RunDue(ctx context.Context) (service.Result, error)
	ProcessOne(ctx context.Context, id string) (service.Result, error)
	SetActive(ctx context.Context, id string, active bool) (model.ScheduledPrompt, error)
}

type Registry interface {
	Start() bool
	Stop(ctx context.Context) error
	Running() bool
	Entries() []registry.EntryInfo
}

type Handler struct {
	engine    Engine
	registry  Registry
	reconcile *scheduler.Scheduler
	runs      cache.RunCache
	apiKey    string
	metrics   http.Handler
}

func NewHandler(e Engine, reg Registry, reconcile *scheduler.Scheduler) *Handler {
	return &Handler{engine: e, registry: reg, reconcile: reconcile}
}

// WithRunCache enables the last-run endpoint. A nil cache leaves it disabled.
func (h *Handler) WithRunCache(c cache.RunCache) *Handler {
	h.runs = c
	return h
}

// WithAPIKey requires key in the x-api-key header of operator routes.
// An empty key disables the check.
func (h *Handler) WithAPIKey(key string) *Handler {
	h.apiKey = key
	return h
}

func (h *Handler) WithMetricsHandler(m http.Handler) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ProcessPrompts(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RunDue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type processSelectedRequest struct {
	PromptID string `json:"promptId"`
}

func (h *Handler) ProcessSelected(w http.ResponseWriter, r *http.Request) {
	var req processSelectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.PromptID = strings.TrimSpace(req.PromptID)
	if req.PromptID == "" {
		writeError(w, http.StatusBadRequest, "promptId is required")
		return
	}

	res, err := h.engine.ProcessOne(r.Context(), req.PromptID)
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type setActiveRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "isActive is required")
		return
	}

	p, err := h.engine.SetActive(r.Context(), id, *req.IsActive)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	case errors.Is(err, model.ErrUnsupportedFrequency):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"promptId":  p.ID,
		"isActive":  p.IsActive,
		"frequency": p.Frequency,
	})
}

func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run cache disabled")
		return
	}

	rec, ok, err := h.runs.LastRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no recorded run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.registry.Start()
	if h.reconcile != nil {
		h.reconcile.Start()
	}
	h.writeStatus(w)
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if h.reconcile != nil {
		h.reconcile.Stop()
	}
	if err := h.registry.Stop(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeStatus(w)
}

func (h *Handler) writeStatus(w http.ResponseWriter) {
	entries := h.registry.Entries()
	body := map[string]any{
		"running": h.registry.Running(),
		"count":   len(entries),
		"entries": entries,
	}
	if h.reconcile != nil {
		body["reconcile"] = h.reconcile.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
