package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/cloud"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// StatusFetcher fetches one device's raw status document.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, deviceID string) (json.RawMessage, error)
}

// pollSettings is shared, read-only configuration for every poller.
type pollSettings struct {
	interval         time.Duration
	requestTimeout   time.Duration
	reconcileTimeout time.Duration
	failureThreshold int
}

// poller owns the polling loop of one device.
//
// States: Idle (waiting on the ticker) -> Polling -> Updated | Failed -> Idle.
// An auth failure ends the loop; only that device stops.
type poller struct {
	dev      *device.Device
	fetcher  StatusFetcher
	store    snapshotStore
	settings pollSettings
	notify   func(Event)
	now      func() time.Time
	logger   Logger
}

// snapshotStore persists polled state. *device.Registry satisfies it.
type snapshotStore interface {
	SaveState(ctx context.Context, id string, state telemetry.State, polledAt time.Time) error
}

// run polls immediately, then on every tick until ctx is cancelled or the
// cloud rejects the credentials.
func (p *poller) run(ctx context.Context) {
	id := p.dev.ID()
	p.logger.Debug("poller started", "device_id", id, "interval", p.settings.interval)
	defer p.logger.Debug("poller stopped", "device_id", id)

	if halt := p.pollOnce(ctx); halt {
		return
	}

	ticker := time.NewTicker(p.settings.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if halt := p.pollOnce(ctx); halt {
				return
			}
		}
	}
}

// pollOnce performs one fetch and applies the result. It returns true when
// the loop must stop.
func (p *poller) pollOnce(ctx context.Context) (halt bool) {
	id := p.dev.ID()

	fetchCtx, cancel := context.WithTimeout(ctx, p.settings.requestTimeout)
	raw, err := p.fetcher.FetchStatus(fetchCtx, id)
	cancel()

	if ctx.Err() != nil {
		// Shutting down; a cancelled fetch is not a device failure.
		return true
	}

	if err != nil {
		return p.fail(id, err)
	}

	state := telemetry.Map(raw)
	now := p.now()
	p.dev.Ordered(func() {
		snap, resolved := p.dev.ApplyPoll(state, now, p.settings.reconcileTimeout)
		for _, cmd := range resolved {
			p.logger.Info("command reconciled",
				"device_id", id, "command_id", cmd.ID, "field", cmd.Field, "status", cmd.Status)
		}
		p.notify(Event{Kind: EventPolled, Snapshot: snap, Resolved: resolved})
	})

	if err := p.store.SaveState(ctx, id, state, now); err != nil {
		p.logger.Warn("persisting snapshot failed", "device_id", id, "error", err)
	}
	return false
}

func (p *poller) fail(id string, err error) bool {
	auth := cloud.IsAuth(err)

	var snap device.Snapshot
	p.dev.Ordered(func() {
		var changed bool
		snap, changed = p.dev.RecordFailure(err.Error(), auth, p.settings.failureThreshold)
		if changed {
			p.notify(Event{Kind: EventAvailability, Snapshot: snap})
		}
	})

	if auth {
		p.logger.Error("cloud rejected credentials, polling halted",
			"device_id", id, "error", err)
	} else {
		p.logger.Warn("poll failed",
			"device_id", id, "consecutive_failures", snap.Failures,
			"retryable", cloud.IsRetryable(err), "error", err)
	}

	return auth
}
