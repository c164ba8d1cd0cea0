package gateway

import "github.com/nerrad567/ailink-bridge/internal/device"

// EventKind classifies gateway notifications.
type EventKind string

// Event kinds.
const (
	// EventPolled follows every successful poll, changed or not.
	EventPolled EventKind = "polled"

	// EventAvailability follows a transition into degraded or
	// reauth_required.
	EventAvailability EventKind = "availability"

	// EventCommand follows an accepted command's optimistic update.
	EventCommand EventKind = "command"

	// EventDevicesChanged follows a discovery pass that changed membership.
	EventDevicesChanged EventKind = "devices_changed"
)

// Event is delivered to every subscribed Notifier.
type Event struct {
	Kind EventKind

	// Snapshot is set for every kind except EventDevicesChanged.
	Snapshot device.Snapshot

	// Command is the accepted command for EventCommand.
	Command *device.PendingCommand

	// Resolved lists commands that left the pending state: confirmed or
	// overridden by a poll, or, on EventCommand, replaced by the new
	// command on the same field.
	Resolved []device.PendingCommand

	// Diff is set for EventDevicesChanged.
	Diff device.Diff
}

// Notifier receives gateway events. It is called synchronously from the
// polling goroutine, and from IssueCommand, while the device's event order
// is held; it must not block and must not issue commands.
type Notifier func(Event)
