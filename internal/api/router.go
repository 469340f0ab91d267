package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthPath = "/api/v1/health"

// healthProbeTimeout bounds each dependency probe on /health.
const healthProbeTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/state", s.handleGetState)
			r.Get("/outcomes", s.handleListOutcomes)

			r.Route("/scenes", func(r chi.Router) {
				r.Get("/", s.handleListScenes)
				r.Get("/{id}", s.handleGetScene)
			})

			r.Route("/debug", func(r chi.Router) {
				r.Post("/events", s.handleInjectEvents)
				r.Get("/windows", s.handleDebugWindows)
				r.Get("/broker", s.handleDebugBroker)
				r.Get("/mqtt", s.handleDebugMQTT)
				r.Get("/dispatcher", s.handleDebugDispatcher)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports the server status and probes registered dependencies.
// Any failing probe turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"room":    s.roomID,
		"clients": s.hub.ClientCount(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, status, body)
}
