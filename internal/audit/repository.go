package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// ErrEntryNotFound is returned by Resolve for an unknown command ID.
var ErrEntryNotFound = errors.New("audit: entry not found")

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one accepted command and its reconciliation outcome.
type Entry struct {
	ID         string               `json:"id"`
	DeviceID   string               `json:"device_id"`
	Field      telemetry.Field      `json:"field"`
	Value      any                  `json:"value"`
	Status     device.PendingStatus `json:"status"`
	IssuedAt   time.Time            `json:"issued_at"`
	ResolvedAt *time.Time           `json:"resolved_at,omitempty"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string               // optional: one heater
	Status   device.PendingStatus // optional: pending, confirmed or overridden
	Limit    int                  // default 50, max 200
	Offset   int                  // pagination offset
}

// ListResult contains one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for command journal storage.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	Resolve(ctx context.Context, id string, status device.PendingStatus, at time.Time) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal in the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new command journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. Recording the same command ID twice is a no-op.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.ID == "" || e.DeviceID == "" {
		return fmt.Errorf("recording command: id and device id are required")
	}
	if e.Status == "" {
		e.Status = device.PendingStatusPending
	}

	valueJSON, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshalling command value: %w", err)
	}

	var resolvedAt any
	if e.ResolvedAt != nil {
		resolvedAt = e.ResolvedAt.UTC().Format(timeLayout)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO command_log (id, device_id, field, value_json, status, issued_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, string(e.Field), string(valueJSON), string(e.Status),
		e.IssuedAt.UTC().Format(timeLayout), resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// Resolve sets the final status of a recorded command.
func (r *SQLiteRepository) Resolve(ctx context.Context, id string, status device.PendingStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE command_log SET status = ?, resolved_at = ? WHERE id = ?",
		string(status), at.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("updating command %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of command %s: %w", id, err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Prune deletes entries issued before the cutoff and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM command_log WHERE issued_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned commands: %w", err)
	}
	return n, nil
}

// List returns entries matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting commands: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device_id, field, value_json, status, issued_at, resolved_at FROM command_log %s ORDER BY issued_at DESC, id LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                   Entry
		field, status       string
		valueJSON, issuedAt string
		resolvedAt          sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.DeviceID, &field, &valueJSON, &status, &issuedAt, &resolvedAt); err != nil {
		return Entry{}, fmt.Errorf("scanning command: %w", err)
	}
	e.Field = telemetry.Field(field)
	e.Status = device.PendingStatus(status)

	if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
		return Entry{}, fmt.Errorf("decoding value of command %s: %w", e.ID, err)
	}

	t, err := time.Parse(timeLayout, issuedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing command timestamp %q: %w", issuedAt, err)
	}
	e.IssuedAt = t

	if resolvedAt.Valid {
		rt, err := time.Parse(timeLayout, resolvedAt.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing resolution timestamp %q: %w", resolvedAt.String, err)
		}
		e.ResolvedAt = &rt
	}
	return e, nil
}
