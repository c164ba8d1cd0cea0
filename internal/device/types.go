package device

import (
	"time"

	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// SupportedCategory is the vendor category code of gas water heaters, as
// stored on every Record.
const SupportedCategory = "19"

// supportedCategoryCode is SupportedCategory as parsed from a listing.
const supportedCategoryCode = 19

// Record identifies one device. It is created by discovery and removed only
// by a discovery pass that no longer lists it.
type Record struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Model    string `json:"model,omitempty"`
	RoomName string `json:"room_name,omitempty"`
}

// Availability summarises a device's reachability.
type Availability string

// Availability values.
const (
	// AvailabilityUnknown means no poll has succeeded since start.
	AvailabilityUnknown Availability = "unknown"
	// AvailabilityOnline means the last poll succeeded.
	AvailabilityOnline Availability = "online"
	// AvailabilityDegraded means polls failed at least the threshold times in a row.
	AvailabilityDegraded Availability = "degraded"
	// AvailabilityReauthRequired means the cloud rejected the credentials.
	AvailabilityReauthRequired Availability = "reauth_required"
)

// PendingStatus is the reconciliation state of a command.
type PendingStatus string

// PendingStatus values.
const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusConfirmed  PendingStatus = "confirmed"
	PendingStatusOverridden PendingStatus = "overridden"
)

// PendingCommand is a value the bridge has sent and shows optimistically
// until a poll confirms it or the reconcile timeout passes.
type PendingCommand struct {
	ID       string          `json:"id"`
	DeviceID string          `json:"device_id"`
	Field    telemetry.Field `json:"field"`
	Value    any             `json:"value"`
	IssuedAt time.Time       `json:"issued_at"`
	Status   PendingStatus   `json:"status"`
}

// Snapshot is a point-in-time copy of a device's state. Callers own it.
type Snapshot struct {
	Record

	State        telemetry.State  `json:"state"`
	Stale        bool             `json:"stale"`
	Availability Availability     `json:"availability"`
	Failures     int              `json:"consecutive_failures"`
	LastError    string           `json:"last_error,omitempty"`
	UpdatedAt    *time.Time       `json:"updated_at,omitempty"`
	Pending      []PendingCommand `json:"pending,omitempty"`
}
