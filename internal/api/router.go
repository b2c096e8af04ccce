package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/devices", s.handleListDevices)

		r.Route("/controls", func(r chi.Router) {
			r.Get("/", s.handleListControls)

			r.Route("/{device}/{control}", func(r chi.Router) {
				r.Get("/", s.handleGetControl)
				r.Put("/", s.handleSetControl)
				r.Get("/history", s.handleControlHistory)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports broker, database and schema status. It always answers 200;
// callers read the fields.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"version":  s.version,
		"mqtt":     s.broker != nil && s.broker.IsConnected(),
		"database": "disabled",
		"clients":  s.hub.ClientCount(),
	}

	if s.db != nil {
		resp["database"] = "ok"
		if err := s.db.HealthCheck(r.Context()); err != nil {
			resp["database"] = "error"
		} else if pending, err := s.db.PendingMigrations(r.Context()); err != nil {
			resp["database"] = "error"
		} else {
			resp["pending_migrations"] = pending
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
