package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// Repository persists device records and their latest polled state so the
// bridge can show last-known values after a restart.
type Repository interface {
	// List returns every stored device with its snapshot, if any.
	List(ctx context.Context) ([]Stored, error)

	// Upsert inserts or updates a device record.
	Upsert(ctx context.Context, rec Record) error

	// Delete removes a device and its snapshot.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// SaveState overwrites the device's latest snapshot.
	SaveState(ctx context.Context, id string, state telemetry.State, polledAt time.Time) error
}

// Stored is a device record as read back from the repository.
type Stored struct {
	Record
	// State is nil when the device has never been polled.
	State    *telemetry.State
	PolledAt time.Time
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// List returns every stored device, ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Stored, error) {
	query := `
		SELECT d.id, d.category, d.name, d.model, d.room_name,
			s.state_json, s.polled_at
		FROM devices d
		LEFT JOIN device_snapshots s ON s.device_id = d.id
		ORDER BY d.name, d.id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Stored
	for rows.Next() {
		var (
			st        Stored
			stateJSON sql.NullString
			polledAt  sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.Category, &st.Name, &st.Model, &st.RoomName,
			&stateJSON, &polledAt); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}

		if stateJSON.Valid {
			state := telemetry.NewState()
			if err := json.Unmarshal([]byte(stateJSON.String), &state); err != nil {
				return nil, fmt.Errorf("decoding snapshot for %s: %w", st.ID, err)
			}
			st.State = &state
		}
		if polledAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, polledAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing polled_at for %s: %w", st.ID, err)
			}
			st.PolledAt = t
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// Upsert inserts a device or refreshes its metadata. created_at is kept.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	now := r.now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO devices (id, category, name, model, room_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			name = excluded.name,
			model = excluded.model,
			room_name = excluded.room_name,
			updated_at = excluded.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Category, rec.Name, rec.Model, rec.RoomName, now, now,
	); err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Delete removes a device by ID. The snapshot goes with it.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	// Foreign keys are on, but delete explicitly so a connection opened
	// without _foreign_keys still leaves no orphan.
	if _, err := r.db.ExecContext(ctx, "DELETE FROM device_snapshots WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// SaveState overwrites the latest snapshot for a device.
func (r *SQLiteRepository) SaveState(ctx context.Context, id string, state telemetry.State, polledAt time.Time) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	query := `
		INSERT INTO device_snapshots (device_id, state_json, polled_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			state_json = excluded.state_json,
			polled_at = excluded.polled_at`

	if _, err := r.db.ExecContext(ctx, query,
		id, string(stateJSON), polledAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}
