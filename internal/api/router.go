package api

import (
	"crypto/subtle"
	"net/http"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.Handle("GET /v1/prompts/process", h.protect(h.ProcessPrompts))
	mux.Handle("POST /v1/prompts/process", h.protect(h.ProcessPrompts))
	mux.Handle("POST /v1/prompts/process-selected", h.protect(h.ProcessSelected))
	mux.Handle("POST /v1/prompts/{id}/active", h.protect(h.SetActive))
	mux.Handle("GET /v1/prompts/{id}/last-run", h.protect(h.LastRun))

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.Handle("POST /v1/scheduler/start", h.protect(h.SchedulerStart))
	mux.Handle("POST /v1/scheduler/stop", h.protect(h.SchedulerStop))

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("rooster"))
	})

	return mux
}

func (h *Handler) protect(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" {
			got := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next(w, r)
	})
}
