package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNoDevices is returned by Discover when the account lists no
	// supported water heater.
	ErrNoDevices = errors.New("device: no supported devices")
)

// DiscoveryError reports a failed discovery pass.
//
// Err is either ErrNoDevices or the cloud error that stopped the listing,
// so errors.Is(err, cloud.ErrAuth) still works through it.
type DiscoveryError struct {
	// Listed is how many devices of any category the account returned.
	Listed int
	Err    error
}

func (e *DiscoveryError) Error() string {
	if errors.Is(e.Err, ErrNoDevices) {
		return fmt.Sprintf("device: discovery found no category %s devices among %d listed", SupportedCategory, e.Listed)
	}
	return fmt.Sprintf("device: discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }
