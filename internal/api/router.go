package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Broker registry
		r.Route("/brokers", func(r chi.Router) {
			r.Get("/", s.handleListBrokers)
			r.Post("/", s.handleCreateBroker)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBroker)
				r.Patch("/", s.handleUpdateBroker)
				r.Delete("/", s.handleDeleteBroker)
			})
		})

		// Device directory
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Patch("/", s.handleUpdateDevice)
				r.Get("/readings", s.handleListReadings)
				r.Get("/alerts", s.handleListDeviceAlerts)
			})
		})

		// Alert log
		r.Get("/alerts", s.handleListAlerts)

		// Actuator commands
		r.Post("/commands", s.handleCommand)

		// Live events
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleMetrics returns ingestion and connection counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := map[string]any{
		"devices":    s.directory.Count(),
		"ws_clients": s.hub.ClientCount(),
	}
	if s.pipeline != nil {
		metrics["ingest"] = s.pipeline.Stats()
	}
	writeJSON(w, http.StatusOK, metrics)
}
