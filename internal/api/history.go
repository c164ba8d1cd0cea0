package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ailink-bridge/internal/audit"
	"github.com/nerrad567/ailink-bridge/internal/device"
)

// handleCommandHistory returns one page of the command journal, newest
// first. Mounted at /commands and /devices/{id}/commands.
//
// Query parameters: status (pending, confirmed, overridden), limit, offset.
func (s *Server) handleCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeNotFound(w, "command journal is disabled")
		return
	}

	filter := audit.Filter{DeviceID: chi.URLParam(r, "id")}
	q := r.URL.Query()

	if v := q.Get("status"); v != "" {
		switch st := device.PendingStatus(v); st {
		case device.PendingStatusPending, device.PendingStatusConfirmed, device.PendingStatusOverridden:
			filter.Status = st
		default:
			writeValidationError(w, "status", "status must be pending, confirmed or overridden")
			return
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeValidationError(w, name, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command journal", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
