package device

import (
	"sort"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// reconcile overlays outstanding commands on a freshly polled state.
//
// For each pending command:
//   - the poll reports the commanded value: Confirmed, dropped
//   - the poll disagrees (or is silent) and the command is younger than
//     timeout: the optimistic value stays visible
//   - otherwise: Overridden, dropped, and the polled value wins
//
// The pending map is modified in place. Resolved commands are returned
// with their final status, oldest first.
func reconcile(
	polled telemetry.State,
	pending map[telemetry.Field]*PendingCommand,
	now time.Time,
	timeout time.Duration,
) (telemetry.State, []PendingCommand) {
	effective := polled.Clone()
	var resolved []PendingCommand

	for field, cmd := range pending {
		v, known := polled.Values[field]
		switch {
		case known && telemetry.Equal(v, cmd.Value):
			cmd.Status = PendingStatusConfirmed
		case now.Sub(cmd.IssuedAt) >= timeout:
			cmd.Status = PendingStatusOverridden
		default:
			effective.Values[field] = cmd.Value
			continue
		}
		resolved = append(resolved, *cmd)
		delete(pending, field)
	}

	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].IssuedAt.Before(resolved[j].IssuedAt)
	})
	return effective, resolved
}

// overlay returns base with every pending value applied.
func overlay(base telemetry.State, pending map[telemetry.Field]*PendingCommand) telemetry.State {
	out := base.Clone()
	for field, cmd := range pending {
		out.Values[field] = cmd.Value
	}
	return out
}

func pendingList(pending map[telemetry.Field]*PendingCommand) []PendingCommand {
	if len(pending) == 0 {
		return nil
	}
	out := make([]PendingCommand, 0, len(pending))
	for _, cmd := range pending {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}
