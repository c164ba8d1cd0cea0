package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// Result describes an accepted command.
type Result struct {
	CommandID string               `json:"command_id"`
	DeviceID  string               `json:"device_id"`
	Field     telemetry.Field      `json:"field"`
	Value     any                  `json:"value"`
	Status    device.PendingStatus `json:"status"`
	IssuedAt  time.Time            `json:"issued_at"`

	// Snapshot already shows the optimistic value.
	Snapshot device.Snapshot `json:"snapshot"`
}

// IssueCommand validates an intent, sends it to the cloud and shows the
// new value at once as a pending command.
//
// Errors:
//   - ErrClosed once Stop has begun
//   - *ValidationError for an unknown field or out-of-range value; nothing is sent
//   - device.ErrDeviceNotFound for an unknown device
//   - the cloud error (*cloud.AuthError, *cloud.TransportError, *cloud.APIError),
//     wrapped; the device state is left untouched
func (g *Gateway) IssueCommand(ctx context.Context, deviceID string, in Intent) (Result, error) {
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return Result{}, ErrClosed
	}
	g.wg.Add(1)
	g.mu.RUnlock()
	defer g.wg.Done()

	cmd, err := validate(in)
	if err != nil {
		return Result{}, err
	}

	dev, err := g.registry.Get(deviceID)
	if err != nil {
		return Result{}, err
	}

	// Cancelled by the caller, the request timeout, or Stop.
	callCtx, cancel := context.WithTimeout(ctx, g.settings.requestTimeout)
	defer cancel()
	stopOnClose := context.AfterFunc(g.ctx, cancel)
	defer stopOnClose()

	g.logger.Info("issuing command",
		"device_id", deviceID, "field", cmd.field, "identifier", cmd.identifier)

	if err := g.cloud.InvokeMethod(callCtx, deviceID, cmd.identifier, cmd.input); err != nil {
		g.logger.Warn("command failed", "device_id", deviceID, "field", cmd.field, "error", err)
		return Result{}, fmt.Errorf("sending %s to %s: %w", cmd.field, deviceID, err)
	}

	pending := device.PendingCommand{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Field:    cmd.field,
		Value:    cmd.value,
		IssuedAt: g.now(),
		Status:   device.PendingStatusPending,
	}
	var snap device.Snapshot
	dev.Ordered(func() {
		var superseded *device.PendingCommand
		snap, superseded = dev.ApplyCommand(pending)

		ev := Event{Kind: EventCommand, Snapshot: snap, Command: &pending}
		if superseded != nil {
			g.logger.Info("command superseded",
				"device_id", deviceID, "command_id", superseded.ID, "by", pending.ID, "field", cmd.field)
			ev.Resolved = []device.PendingCommand{*superseded}
		}
		g.notify(ev)
	})

	return Result{
		CommandID: pending.ID,
		DeviceID:  deviceID,
		Field:     cmd.field,
		Value:     cmd.value,
		Status:    device.PendingStatusPending,
		IssuedAt:  pending.IssuedAt,
		Snapshot:  snap,
	}, nil
}
