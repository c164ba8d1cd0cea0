package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Field telemetry.Field `json:"field"`
	Value any             `json:"value"`
}

// discoveryResponse is the body of POST /discovery.
type discoveryResponse struct {
	Added   []device.Record `json:"added"`
	Removed []string        `json:"removed"`
	Updated []device.Record `json:"updated"`
	Devices int             `json:"devices"`
}

// handleListDevices returns every heater snapshot, sorted by name.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.gw.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single heater snapshot by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gw.Device(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCommand sends one command to a heater.
//
// 202 Accepted carries the gateway Result; the value is pending until a
// later poll confirms or overrides it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Field == "" {
		writeBadRequest(w, "field is required")
		return
	}

	res, err := s.gw.IssueCommand(r.Context(), id, gateway.Intent{Field: req.Field, Value: req.Value})
	if err != nil {
		s.writeCommandError(w, r, id, err)
		return
	}

	caller := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		caller = claims.Subject
	}
	s.logger.Info("command accepted",
		"device_id", id, "field", res.Field, "command_id", res.CommandID, "caller", caller)
	writeJSON(w, http.StatusAccepted, res)
}

// writeCommandError maps a gateway or cloud error to a status code.
func (s *Server) writeCommandError(w http.ResponseWriter, r *http.Request, id string, err error) {
	var verr *gateway.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidationError(w, verr.Field, verr.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case cloud.IsAuth(err):
		writeError(w, http.StatusUnauthorized, ErrCodeReauthRequired, "cloud credentials were rejected")
	case errors.Is(err, gateway.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is shutting down")
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away; nothing useful to write.
	default:
		s.logger.Warn("command failed", "device_id", id, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}

// handleDiscovery re-lists the account's devices and returns the diff.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	diff, err := s.gw.Rediscover(r.Context())
	if err != nil {
		switch {
		case cloud.IsAuth(err):
			writeError(w, http.StatusUnauthorized, ErrCodeReauthRequired, "cloud credentials were rejected")
		case errors.Is(err, gateway.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is shutting down")
		default:
			s.logger.Warn("discovery failed", "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, discoveryResponse{
		Added:   nonNil(diff.Added),
		Removed: nonNil(diff.Removed),
		Updated: nonNil(diff.Updated),
		Devices: len(s.gw.Devices()),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
