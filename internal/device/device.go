package device

import (
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// Device is one water heater's live state.
//
// All fields are guarded by mu. The poller and the dispatcher of the same
// device serialise here; different devices never contend.
type Device struct {
	// seq orders state changes with the events that announce them. It is
	// always taken before mu.
	seq sync.Mutex

	mu sync.Mutex

	record Record

	// polled is the last state reported by the cloud; effective adds
	// pending optimistic values on top.
	polled    telemetry.State
	effective telemetry.State
	pending   map[telemetry.Field]*PendingCommand

	stale        bool
	availability Availability
	failures     int
	lastError    string
	updatedAt    time.Time
}

// NewDevice creates a device with every field unknown.
func NewDevice(rec Record) *Device {
	empty := telemetry.NewState()
	return &Device{
		record:       rec,
		polled:       empty,
		effective:    empty.Clone(),
		pending:      make(map[telemetry.Field]*PendingCommand),
		availability: AvailabilityUnknown,
	}
}

// ID returns the vendor device ID.
func (d *Device) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record.ID
}

// Record returns the identity and metadata.
func (d *Device) Record() Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record
}

// setRecord refreshes metadata after re-discovery. The ID never changes.
func (d *Device) setRecord(rec Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec.ID = d.record.ID
	d.record = rec
}

// restore seeds a device from a persisted snapshot. The values are shown
// but marked stale until the first live poll.
func (d *Device) restore(state telemetry.State, polledAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polled = state.Clone()
	d.effective = overlay(d.polled, d.pending)
	d.stale = true
	d.availability = AvailabilityUnknown
	d.updatedAt = polledAt
}

// ApplyPoll replaces the polled state atomically, reconciles pending
// commands and marks the device online.
//
// Returns the new snapshot and the commands resolved by this poll.
func (d *Device) ApplyPoll(state telemetry.State, now time.Time, reconcileTimeout time.Duration) (Snapshot, []PendingCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.polled = state.Clone()
	effective, resolved := reconcile(d.polled, d.pending, now, reconcileTimeout)
	d.effective = effective

	d.failures = 0
	d.lastError = ""
	d.stale = false
	d.availability = AvailabilityOnline
	d.updatedAt = now

	return d.snapshotLocked(), resolved
}

// ApplyCommand records an accepted command and shows its value at once.
//
// A newer command on the same field replaces the older one, which is
// returned with status Overridden; superseded is nil otherwise.
func (d *Device) ApplyCommand(cmd PendingCommand) (snap Snapshot, superseded *PendingCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.pending[cmd.Field]; ok {
		old := *prev
		old.Status = PendingStatusOverridden
		superseded = &old
	}

	cmd.Status = PendingStatusPending
	d.pending[cmd.Field] = &cmd
	d.effective = d.effective.With(cmd.Field, cmd.Value)

	return d.snapshotLocked(), superseded
}

// Ordered runs fn while no other Ordered call on this device runs. The
// gateway applies a change and delivers its event inside fn, so the
// events of one device reach subscribers in the order the changes were
// made. fn must not call Ordered again.
func (d *Device) Ordered(fn func()) {
	d.seq.Lock()
	defer d.seq.Unlock()
	fn()
}

// RecordFailure counts a failed poll.
//
// An auth failure moves the device to reauth_required at once. Any other
// failure marks it stale and degraded when the consecutive count reaches
// threshold. changed is true only on the transition into either state, so
// callers notify once rather than on every failure.
func (d *Device) RecordFailure(errMsg string, auth bool, threshold int) (snap Snapshot, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures++
	d.lastError = errMsg
	before := d.availability

	switch {
	case auth:
		d.stale = true
		d.availability = AvailabilityReauthRequired
	case d.failures >= threshold:
		d.stale = true
		if d.availability != AvailabilityReauthRequired {
			d.availability = AvailabilityDegraded
		}
	}

	return d.snapshotLocked(), d.availability != before
}

// Snapshot returns a deep copy of the current state.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Availability returns the current availability.
func (d *Device) Availability() Availability {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.availability
}

func (d *Device) snapshotLocked() Snapshot {
	snap := Snapshot{
		Record:       d.record,
		State:        d.effective.Clone(),
		Stale:        d.stale,
		Availability: d.availability,
		Failures:     d.failures,
		LastError:    d.lastError,
		Pending:      pendingList(d.pending),
	}
	if !d.updatedAt.IsZero() {
		t := d.updatedAt
		snap.UpdatedAt = &t
	}
	return snap
}
