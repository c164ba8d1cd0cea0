package audit

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
	_ "github.com/nerrad567/ailink-bridge/migrations"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func entry(id, deviceID string, offset time.Duration) Entry {
	return Entry{
		ID:       id,
		DeviceID: deviceID,
		Field:    telemetry.FieldTargetTemperature,
		Value:    55.0,
		IssuedAt: baseTime.Add(offset),
	}
}

// ===== Record / List =====

func TestRecordAndList(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.Record(ctx, entry("c1", "100", 0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	power := Entry{ID: "c2", DeviceID: "100", Field: telemetry.FieldPower, Value: true, IssuedAt: baseTime.Add(time.Minute)}
	if err := repo.Record(ctx, power); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 || len(res.Entries) != 2 {
		t.Fatalf("List() total=%d len=%d, want 2/2", res.Total, len(res.Entries))
	}

	newest := res.Entries[0]
	if newest.ID != "c2" {
		t.Errorf("first entry = %s, want newest c2", newest.ID)
	}
	if newest.Value != true {
		t.Errorf("Value = %v, want true", newest.Value)
	}
	if newest.Status != device.PendingStatusPending {
		t.Errorf("Status = %q, want pending", newest.Status)
	}
	if !newest.IssuedAt.Equal(power.IssuedAt) {
		t.Errorf("IssuedAt = %v, want %v", newest.IssuedAt, power.IssuedAt)
	}
	if newest.ResolvedAt != nil {
		t.Error("ResolvedAt should be nil for a pending command")
	}
	if res.Entries[1].Value != 55.0 {
		t.Errorf("Value = %v, want 55", res.Entries[1].Value)
	}
	if res.Limit != defaultLimit {
		t.Errorf("Limit = %d, want default %d", res.Limit, defaultLimit)
	}
}

func TestRecord_DuplicateIgnored(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := repo.Record(ctx, entry("c1", "100", 0)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
}

func TestRecord_RequiresIDs(t *testing.T) {
	repo := setupTestDB(t)
	if err := repo.Record(context.Background(), Entry{DeviceID: "100"}); err == nil {
		t.Error("Record() without id should fail")
	}
}

func TestList_Filters(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		if err := repo.Record(ctx, entry(id, "100", time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := repo.Record(ctx, entry("b1", "200", 0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Resolve(ctx, "a1", device.PendingStatusConfirmed, baseTime.Add(time.Hour)); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		total  int
		ids    []string
	}{
		{"by device", Filter{DeviceID: "100"}, 3, []string{"a3", "a2", "a1"}},
		{"other device", Filter{DeviceID: "200"}, 1, []string{"b1"}},
		{"by status", Filter{Status: device.PendingStatusConfirmed}, 1, []string{"a1"}},
		{"pending on device", Filter{DeviceID: "100", Status: device.PendingStatusPending}, 2, []string{"a3", "a2"}},
		{"page", Filter{DeviceID: "100", Limit: 1, Offset: 1}, 3, []string{"a2"}},
		{"past the end", Filter{DeviceID: "100", Offset: 10}, 3, nil},
		{"unknown device", Filter{DeviceID: "999"}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != len(tt.ids) {
				t.Fatalf("got %d entries, want %d", len(res.Entries), len(tt.ids))
			}
			for i, id := range tt.ids {
				if res.Entries[i].ID != id {
					t.Errorf("entry %d = %s, want %s", i, res.Entries[i].ID, id)
				}
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := setupTestDB(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, maxLimit)
	}
	if res.Offset != 0 {
		t.Errorf("Offset = %d, want 0", res.Offset)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}
}

// ===== Resolve / Prune =====

func TestResolve(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.Record(ctx, entry("c1", "100", 0)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	at := baseTime.Add(2 * time.Minute)
	if err := repo.Resolve(ctx, "c1", device.PendingStatusOverridden, at); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Entries[0]
	if got.Status != device.PendingStatusOverridden {
		t.Errorf("Status = %q, want overridden", got.Status)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(at) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, at)
	}
}

func TestResolve_Unknown(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.Resolve(context.Background(), "missing", device.PendingStatusConfirmed, baseTime)
	if !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Resolve() error = %v, want ErrEntryNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for i, id := range []string{"old1", "old2", "new"} {
		offset := time.Duration(i) * 24 * time.Hour
		if err := repo.Record(ctx, entry(id, "100", offset)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, baseTime.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].ID != "new" {
		t.Errorf("remaining = %+v, want only new", res.Entries)
	}
}

// ===== Failure paths =====

func TestSQLiteRepository_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	mock.ExpectExec(regexp.QuoteMeta("INSERT OR IGNORE INTO command_log")).WillReturnError(boom)
	if err := repo.Record(ctx, entry("c1", "100", 0)); !errors.Is(err, boom) {
		t.Errorf("Record() error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE command_log")).WillReturnError(boom)
	if err := repo.Resolve(ctx, "c1", device.PendingStatusConfirmed, baseTime); !errors.Is(err, boom) {
		t.Errorf("Resolve() error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM command_log")).WillReturnError(boom)
	if _, err := repo.List(ctx, Filter{}); !errors.Is(err, boom) {
		t.Errorf("List() error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM command_log")).WillReturnError(boom)
	if _, err := repo.Prune(ctx, baseTime); !errors.Is(err, boom) {
		t.Errorf("Prune() error = %v, want wrapped %v", err, boom)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestList_CorruptValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewSQLiteRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, device_id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "field", "value_json", "status", "issued_at", "resolved_at"}).
			AddRow("c1", "100", "target_temperature", "{not json", "pending", baseTime.Format(timeLayout), nil))

	if _, err := repo.List(context.Background(), Filter{}); err == nil {
		t.Error("List() should fail on a corrupt value")
	}
}
