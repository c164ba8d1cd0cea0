package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/audit"
	"github.com/nerrad567/ailink-bridge/internal/auth"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// fakeJournal remembers the last filter it was asked for.
type fakeJournal struct {
	last    audit.Filter
	entries []audit.Entry
	err     error
}

func (f *fakeJournal) List(_ context.Context, filter audit.Filter) (*audit.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &audit.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func journalServer(t *testing.T, authEnabled bool) (*fakeJournal, http.Handler) {
	t.Helper()
	srv, _, _ := testServer(t, authEnabled)
	j := &fakeJournal{entries: []audit.Entry{{
		ID:       "c1",
		DeviceID: "100",
		Field:    telemetry.FieldTargetTemperature,
		Value:    55.0,
		Status:   device.PendingStatusConfirmed,
		IssuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	srv.journal = j
	return j, srv.buildRouter()
}

// ─── Command history ───────────────────────────────────────────────

func TestCommandHistory_Device(t *testing.T) {
	j, h := journalServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/v1/devices/100/commands?status=confirmed&limit=10&offset=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	want := audit.Filter{DeviceID: "100", Status: device.PendingStatusConfirmed, Limit: 10, Offset: 5}
	if j.last != want {
		t.Errorf("filter = %+v, want %+v", j.last, want)
	}

	var res audit.ListResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if res.Total != 1 || res.Entries[0].ID != "c1" {
		t.Errorf("body = %+v, want entry c1", res)
	}
}

func TestCommandHistory_AllDevices(t *testing.T) {
	j, h := journalServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/v1/commands", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if j.last.DeviceID != "" {
		t.Errorf("DeviceID = %q, want no device filter", j.last.DeviceID)
	}
}

func TestCommandHistory_BadQuery(t *testing.T) {
	_, h := journalServer(t, false)

	tests := []struct {
		query string
		field string
	}{
		{"status=done", "status"},
		{"limit=ten", "limit"},
		{"offset=-1", "offset"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/commands?"+tt.query, "", "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			e := decodeError(t, rec)
			if e.Code != ErrCodeValidation || e.Field != tt.field {
				t.Errorf("error = %+v, want validation_error on %s", e, tt.field)
			}
		})
	}
}

func TestCommandHistory_JournalFailure(t *testing.T) {
	j, h := journalServer(t, false)
	j.err = errors.New("database is locked")

	rec := do(t, h, http.MethodGet, "/api/v1/commands", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestCommandHistory_Disabled(t *testing.T) {
	_, _, h := testServer(t, false)

	rec := do(t, h, http.MethodGet, "/api/v1/devices/100/commands", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCommandHistory_ViewerCanRead(t *testing.T) {
	_, h := journalServer(t, true)

	if rec := do(t, h, http.MethodGet, "/api/v1/commands", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/commands", "", token(t, auth.RoleViewer)); rec.Code != http.StatusOK {
		t.Errorf("viewer: status = %d, want 200", rec.Code)
	}
}
