package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every topic the bridge publishes.
const DefaultTopicPrefix = "ailink"

// Topics builds the bridge's MQTT topics under a configurable prefix.
//
// Layout:
//
//	ailink/bridge/status                  retained online/offline (LWT)
//	ailink/bridge/health                  retained health report
//	ailink/{device_id}/state              retained snapshot JSON
//	ailink/{device_id}/availability       retained "online" / "offline"
//	ailink/{device_id}/{field}/set        inbound commands
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeStatus returns the bridge liveness topic.
//
// Example: ailink/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.root())
}

// BridgeHealth returns the bridge health report topic.
//
// Example: ailink/bridge/health
func (t Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/bridge/health", t.root())
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the snapshot topic for a device.
//
// Example: ailink/1234567890/state
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", t.root(), deviceID)
}

// DeviceAvailability returns the availability topic for a device.
//
// Example: ailink/1234567890/availability
func (t Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", t.root(), deviceID)
}

// DeviceCommand returns the command topic for one writable field.
//
// Example: ailink/1234567890/target_temperature/set
func (t Topics) DeviceCommand(deviceID, field string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.root(), deviceID, field)
}

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: ailink/+/+/set
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/+/set", t.root())
}

// ParseDeviceCommand extracts the device ID and field from a command topic.
// It returns ok=false for anything not shaped like DeviceCommand's output.
func (t Topics) ParseDeviceCommand(topic string) (deviceID, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.root()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
