package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ailink-bridge/internal/auth"
	"github.com/nerrad567/ailink-bridge/internal/device"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Get("/commands", s.handleCommandHistory)
					r.With(s.requirePermission(auth.PermDeviceOperate)).
						Post("/commands", s.handleCommand)
				})
			})

			r.Get("/commands", s.handleCommandHistory)

			r.With(s.requirePermission(auth.PermDiscoveryRun)).
				Post("/discovery", s.handleDiscovery)

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status       string                      `json:"status"`
	Reason       string                      `json:"reason,omitempty"`
	Version      string                      `json:"version"`
	Devices      int                         `json:"devices"`
	Availability map[device.Availability]int `json:"availability"`
}

// handleHealth returns the bridge health. It always answers 200 so that
// liveness probes only fail when the process is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		msg := s.health.Current()
		writeJSON(w, http.StatusOK, healthResponse{
			Status:       string(msg.Status),
			Reason:       msg.Reason,
			Version:      s.version,
			Devices:      msg.Devices,
			Availability: msg.Availability,
		})
		return
	}

	resp := healthResponse{
		Status:       "ok",
		Version:      s.version,
		Availability: make(map[device.Availability]int),
	}
	for _, snap := range s.gw.Devices() {
		resp.Devices++
		resp.Availability[snap.Availability]++
	}
	writeJSON(w, http.StatusOK, resp)
}
