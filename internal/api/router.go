// Package api is the HTTP surface of the gateway.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the lookup, health and metrics routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeMessage(w, http.StatusOK, "ok") })

	r.Group(func(r chi.Router) {
		r.Use(callerMiddleware)
		r.Use(h.rateLimitMiddleware)
		r.Get("/reference/resolve", h.resolve)
	})

	r.Get("/internal/metrics", h.metrics)

	return r
}
