// Package gateway ties the Ai-Link cloud client to the device registry.
//
// A Gateway discovers gas water heaters, runs one polling goroutine per
// heater and dispatches commands:
//
//	gw, err := gateway.New(gateway.Options{Cloud: client, Registry: reg})
//	if err := gw.Start(ctx); err != nil {
//	    // *device.DiscoveryError, possibly wrapping a *cloud.AuthError
//	}
//	defer gw.Stop()
//
//	res, err := gw.IssueCommand(ctx, id, gateway.TargetTemperature(55))
//
// # Reconciliation
//
// An accepted command is visible at once as a pending value. The next
// poll either confirms it or, while the heater still reports the old
// value, keeps it until the reconcile timeout (twice the poll interval by
// default) passes and the polled value wins.
//
// # Failure handling
//
// Each failed poll counts against the heater. At the failure threshold it
// is marked stale and degraded; an auth failure marks it reauth_required
// at once and stops only that heater's poller.
//
// # Notifications
//
// Subscribe registers a Notifier called after every successful poll,
// availability transition, accepted command and membership change. The
// Home Assistant adapter and the WebSocket hub are both notifiers.
package gateway
