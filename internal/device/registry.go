package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Lister lists every device on the account. *cloud.Client satisfies it.
type Lister interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error)
}

// Diff describes what a Sync changed.
type Diff struct {
	Added   []Record `json:"added"`
	Removed []string `json:"removed"`
	Updated []Record `json:"updated"`
}

// Empty reports whether the sync changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Registry holds the set of known water heaters.
//
// mu only protects membership. Each Device carries its own lock, so a slow
// poll of one heater never blocks lookups or commands for another.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	mu      sync.RWMutex
	devices map[string]*Device
	logger  Logger
}

// NewRegistry creates an empty registry. repo may be nil, in which case
// nothing is persisted.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load warm-starts the registry from the repository. Loaded devices keep
// their last snapshot but stay stale until their first live poll.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	stored, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range stored {
		if st.Category != SupportedCategory {
			continue
		}
		d := NewDevice(st.Record)
		if st.State != nil {
			d.restore(*st.State, st.PolledAt)
		}
		r.devices[st.ID] = d
	}

	r.logger.Info("device registry loaded", "count", len(r.devices))
	return nil
}

// Discover lists the account's devices and keeps only gas water heaters.
//
// Returns a *DiscoveryError wrapping the cloud error when the listing
// fails, or wrapping ErrNoDevices when no supported device is listed.
func Discover(ctx context.Context, lister Lister) ([]Record, error) {
	infos, err := lister.ListDevices(ctx)
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}

	records := FilterSupported(infos)
	if len(records) == 0 {
		return nil, &DiscoveryError{Listed: len(infos), Err: ErrNoDevices}
	}
	return records, nil
}

// FilterSupported converts listing entries to records, dropping other
// categories, entries without an ID, and duplicates. The category is
// compared numerically and stored as SupportedCategory.
func FilterSupported(infos []cloud.DeviceInfo) []Record {
	seen := make(map[string]bool, len(infos))
	records := make([]Record, 0, len(infos))
	for _, info := range infos {
		id := info.ID()
		code, ok := info.CategoryCode()
		if id == "" || !ok || code != supportedCategoryCode || seen[id] {
			continue
		}
		seen[id] = true
		records = append(records, Record{
			ID:       id,
			Category: SupportedCategory,
			Name:     info.Name(),
			Model:    info.ProductModel,
			RoomName: info.RoomName,
		})
	}
	return records
}

// Sync makes records the registry's membership.
//
// New IDs are added, IDs no longer listed are removed, and existing devices
// keep their state while their metadata is refreshed. Persistence errors
// are logged and returned after the in-memory change is complete, so the
// live set never lags the cloud.
func (r *Registry) Sync(ctx context.Context, records []Record) (Diff, error) {
	var diff Diff

	incoming := make(map[string]Record, len(records))
	for _, rec := range records {
		incoming[rec.ID] = rec
	}

	r.mu.Lock()
	for id := range r.devices {
		if _, ok := incoming[id]; !ok {
			delete(r.devices, id)
			diff.Removed = append(diff.Removed, id)
		}
	}
	for _, rec := range records {
		existing, ok := r.devices[rec.ID]
		switch {
		case !ok:
			r.devices[rec.ID] = NewDevice(rec)
			diff.Added = append(diff.Added, rec)
		case existing.Record() != rec:
			existing.setRecord(rec)
			diff.Updated = append(diff.Updated, rec)
		}
	}
	r.mu.Unlock()

	sort.Strings(diff.Removed)

	if !diff.Empty() {
		r.logger.Info("device registry synced",
			"added", len(diff.Added), "removed", len(diff.Removed), "updated", len(diff.Updated))
	}

	return diff, r.persist(ctx, diff)
}

func (r *Registry) persist(ctx context.Context, diff Diff) error {
	if r.repo == nil {
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, rec := range append(append([]Record{}, diff.Added...), diff.Updated...) {
		if err := r.repo.Upsert(ctx, rec); err != nil {
			r.logger.Error("persisting device failed", "device_id", rec.ID, "error", err)
			keep(fmt.Errorf("persisting device %s: %w", rec.ID, err))
		}
	}
	for _, id := range diff.Removed {
		if err := r.repo.Delete(ctx, id); err != nil {
			r.logger.Error("deleting device failed", "device_id", id, "error", err)
			keep(fmt.Errorf("deleting device %s: %w", id, err))
		}
	}
	return firstErr
}

// Get returns the live device with the given ID.
// Returns ErrDeviceNotFound if it is not registered.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// List returns every live device ordered by ID.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Snapshots returns a snapshot of every device ordered by ID.
func (r *Registry) Snapshots() []Snapshot {
	devices := r.List()
	out := make([]Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SaveState persists a device's polled state. A registry without a
// repository does nothing.
func (r *Registry) SaveState(ctx context.Context, id string, state telemetry.State, polledAt time.Time) error {
	if r.repo == nil {
		return nil
	}
	if err := r.repo.SaveState(ctx, id, state, polledAt); err != nil {
		return fmt.Errorf("saving state for %s: %w", id, err)
	}
	return nil
}
