package device

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nerrad567/ailink-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
	_ "github.com/nerrad567/ailink-bridge/migrations"
)

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

// ===== SQLite =====

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := Record{ID: "100", Category: "19", Name: "Kitchen heater", Model: "JSQ31-VJS", RoomName: "Kitchen"}
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	stored, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("List() returned %d, want 1", len(stored))
	}
	if stored[0].Record != rec {
		t.Errorf("Record = %+v, want %+v", stored[0].Record, rec)
	}
	if stored[0].State != nil {
		t.Error("State should be nil before SaveState")
	}

	state := telemetry.NewState()
	state.Values[telemetry.FieldPower] = true
	state.Values[telemetry.FieldTargetTemperature] = 52.0
	state.Firmware = "V1.0.7"
	state.Extra["mystery"] = "7"
	polledAt := time.Date(2026, 3, 1, 12, 30, 15, 500, time.UTC)

	if err := repo.SaveState(ctx, "100", state, polledAt); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	// Overwrite; only the latest snapshot is kept.
	state.Values[telemetry.FieldTargetTemperature] = 55.0
	if err := repo.SaveState(ctx, "100", state, polledAt.Add(time.Minute)); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	stored, err = repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := stored[0]
	if got.State == nil {
		t.Fatal("State is nil after SaveState")
	}
	if v, _ := got.State.Number(telemetry.FieldTargetTemperature); v != 55 {
		t.Errorf("target_temperature = %v, want 55", v)
	}
	if v, _ := got.State.Bool(telemetry.FieldPower); !v {
		t.Error("power should round-trip as true")
	}
	if got.State.Firmware != "V1.0.7" || got.State.Extra["mystery"] != "7" {
		t.Errorf("metadata lost: %+v", got.State)
	}
	if !got.PolledAt.Equal(polledAt.Add(time.Minute)) {
		t.Errorf("PolledAt = %v, want %v", got.PolledAt, polledAt.Add(time.Minute))
	}
}

func TestSQLiteRepository_UpsertUpdates(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	rec := Record{ID: "100", Category: "19", Name: "Old"}
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	rec.Name = "New"
	if err := repo.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	stored, _ := repo.List(ctx)
	if len(stored) != 1 || stored[0].Name != "New" {
		t.Errorf("List() = %+v, want one device named New", stored)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, Record{ID: "100", Category: "19"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.SaveState(ctx, "100", telemetry.NewState(), time.Now()); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	if err := repo.Delete(ctx, "100"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "100"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}

	stored, _ := repo.List(ctx)
	if len(stored) != 0 {
		t.Errorf("List() = %+v, want empty", stored)
	}
}

func TestSQLiteRepository_SaveStateUnknownDevice(t *testing.T) {
	repo := setupTestDB(t)

	err := repo.SaveState(context.Background(), "ghost", telemetry.NewState(), time.Now())
	if err == nil {
		t.Fatal("SaveState() for an unknown device should violate the foreign key")
	}
}

func TestSQLiteRepository_RegistryWarmStart(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	first := NewRegistry(repo)
	if _, err := first.Sync(ctx, []Record{{ID: "100", Category: "19", Name: "Heater"}}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	state := telemetry.NewState()
	state.Values[telemetry.FieldWaterTemperature] = 47.5
	if err := first.SaveState(ctx, "100", state, t0); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	second := NewRegistry(repo)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	dev, err := second.Get("100")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	snap := dev.Snapshot()
	if !snap.Stale {
		t.Error("warm-loaded device should be stale")
	}
	if v, _ := snap.State.Number(telemetry.FieldWaterTemperature); v != 47.5 {
		t.Errorf("water_temperature = %v, want 47.5", v)
	}
}

// ===== Failure paths =====

func newMockRepo(t *testing.T) (*SQLiteRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteRepository(db), mock
}

func TestSQLiteRepository_ListQueryError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT d.id").WillReturnError(errors.New("database is locked"))

	if _, err := repo.List(context.Background()); err == nil {
		t.Fatal("List() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteRepository_ListCorruptSnapshot(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := sqlmock.NewRows([]string{"id", "category", "name", "model", "room_name", "state_json", "polled_at"}).
		AddRow("100", "19", "Heater", "", "", "{not json", "2026-03-01T12:00:00Z")
	mock.ExpectQuery("SELECT d.id").WillReturnRows(rows)

	if _, err := repo.List(context.Background()); err == nil {
		t.Fatal("List() should reject a corrupt snapshot")
	}
}

func TestSQLiteRepository_UpsertError(t *testing.T) {
	repo, mock := newMockRepo(t)
	repo.now = func() time.Time { return t0 }
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO devices")).
		WithArgs("100", "19", "Heater", "", "", "2026-03-01T12:00:00Z", "2026-03-01T12:00:00Z").
		WillReturnError(errors.New("disk I/O error"))

	err := repo.Upsert(context.Background(), Record{ID: "100", Category: "19", Name: "Heater"})
	if err == nil {
		t.Fatal("Upsert() should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteRepository_DeleteRowsAffectedError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("DELETE FROM device_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM devices").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("driver does not support RowsAffected")))

	if err := repo.Delete(context.Background(), "100"); err == nil || errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Delete() error = %v, want rows affected failure", err)
	}
}
