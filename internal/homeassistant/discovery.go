package homeassistant

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

const manufacturer = "A.O. Smith"

// Water heater operation modes. "gas" maps to power on.
const (
	ModeOff = "off"
	ModeGas = "gas"
)

// modeField is the pseudo-field carried on the water heater's mode command
// topic.
const modeField = "mode"

// Discovery component types.
const (
	componentWaterHeater = "water_heater"
	componentSensor      = "sensor"
	componentSwitch      = "switch"
	componentNumber      = "number"
)

// discoveryMessage is one retained config payload and where it goes.
type discoveryMessage struct {
	Topic  string
	Config entityConfig
}

// discoveryBuilder renders discovery configs for one bridge.
type discoveryBuilder struct {
	prefix string
	topics mqtt.Topics
}

// configTopic builds <prefix>/<component>/ailink_<id>/<object>/config.
func (b discoveryBuilder) configTopic(component, deviceID, object string) string {
	return fmt.Sprintf("%s/%s/ailink_%s/%s/config", b.prefix, component, deviceID, object)
}

func (b discoveryBuilder) base(snap device.Snapshot, object, name string) entityConfig {
	return entityConfig{
		Name:     name,
		UniqueID: fmt.Sprintf("ailink_%s_%s", snap.ID, object),
		Device: deviceConfig{
			Identifiers:   []string{"ailink_" + snap.ID},
			Name:          deviceName(snap),
			Manufacturer:  manufacturer,
			Model:         firstNonEmpty(snap.State.Model, snap.Model),
			SWVersion:     snap.State.Firmware,
			SuggestedArea: firstNonEmpty(snap.RoomName, snap.State.RoomName),
		},
		Availability: []availabilityEntry{
			{Topic: b.topics.BridgeStatus()},
			{Topic: b.topics.DeviceAvailability(snap.ID)},
		},
		AvailabilityMode: "all",
	}
}

// forDevice returns every config for a heater, excluding raw sensors.
func (b discoveryBuilder) forDevice(snap device.Snapshot) []discoveryMessage {
	msgs := []discoveryMessage{b.waterHeater(snap)}

	for _, def := range telemetry.Definitions() {
		switch {
		case def.Field == telemetry.FieldPower || def.Field == telemetry.FieldTargetTemperature:
			// Both live on the water heater entity.
		case def.Writable && def.Kind == telemetry.KindBool:
			msgs = append(msgs, b.switchEntity(snap, def))
		case def.Writable:
			msgs = append(msgs, b.numberEntity(snap, def))
		default:
			msgs = append(msgs, b.sensor(snap, def))
		}
	}
	return msgs
}

func (b discoveryBuilder) waterHeater(snap device.Snapshot) discoveryMessage {
	state := b.topics.DeviceState(snap.ID)
	cfg := b.base(snap, "water_heater", "Water Heater")
	cfg.Modes = []string{ModeOff, ModeGas}
	cfg.ModeStateTopic = state
	cfg.ModeStateTemplate = fmt.Sprintf("{{ '%s' if value_json.state.power else '%s' }}", ModeGas, ModeOff)
	cfg.ModeCommandTopic = b.topics.DeviceCommand(snap.ID, modeField)
	cfg.TemperatureStateTopic = state
	cfg.TemperatureStateTemplate = stateTemplate(telemetry.FieldTargetTemperature)
	cfg.TemperatureCommandTopic = b.topics.DeviceCommand(snap.ID, string(telemetry.FieldTargetTemperature))
	cfg.CurrentTemperatureTopic = state
	cfg.CurrentTemperatureTemplate = stateTemplate(telemetry.FieldWaterTemperature)
	cfg.MinTemp = num(gateway.MinTargetTemperature)
	cfg.MaxTemp = num(gateway.MaxTargetTemperature)
	cfg.Precision = num(1)
	cfg.TemperatureUnit = "C"

	return discoveryMessage{Topic: b.configTopic(componentWaterHeater, snap.ID, "water_heater"), Config: cfg}
}

func (b discoveryBuilder) sensor(snap device.Snapshot, def telemetry.Definition) discoveryMessage {
	object := string(def.Field)
	cfg := b.base(snap, object, def.Name)
	cfg.StateTopic = b.topics.DeviceState(snap.ID)
	cfg.ValueTemplate = stateTemplate(def.Field)
	cfg.UnitOfMeasurement = def.Unit
	cfg.DeviceClass, cfg.StateClass = sensorClasses(def)
	if def.Kind == telemetry.KindText {
		cfg.EntityCategory = "diagnostic"
	}
	return discoveryMessage{Topic: b.configTopic(componentSensor, snap.ID, object), Config: cfg}
}

func (b discoveryBuilder) switchEntity(snap device.Snapshot, def telemetry.Definition) discoveryMessage {
	object := string(def.Field)
	cfg := b.base(snap, object, def.Name)
	cfg.StateTopic = b.topics.DeviceState(snap.ID)
	cfg.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.state.%s else 'OFF' }}", def.Field)
	cfg.CommandTopic = b.topics.DeviceCommand(snap.ID, object)
	cfg.PayloadOn, cfg.PayloadOff = "ON", "OFF"
	cfg.StateOn, cfg.StateOff = "ON", "OFF"
	return discoveryMessage{Topic: b.configTopic(componentSwitch, snap.ID, object), Config: cfg}
}

func (b discoveryBuilder) numberEntity(snap device.Snapshot, def telemetry.Definition) discoveryMessage {
	object := string(def.Field)
	cfg := b.base(snap, object, def.Name)
	cfg.StateTopic = b.topics.DeviceState(snap.ID)
	cfg.ValueTemplate = stateTemplate(def.Field)
	cfg.CommandTopic = b.topics.DeviceCommand(snap.ID, object)
	cfg.UnitOfMeasurement = def.Unit
	cfg.Step = num(1)
	cfg.Mode = "box"
	if def.Field == telemetry.FieldCruiseTimer {
		cfg.Min = num(gateway.MinCruiseTimer)
		cfg.Max = num(gateway.MaxCruiseTimer)
	}
	return discoveryMessage{Topic: b.configTopic(componentNumber, snap.ID, object), Config: cfg}
}

var rawObjectChars = regexp.MustCompile(`[^a-z0-9_]+`)

// rawSensors returns a diagnostic sensor per extra outputData key.
func (b discoveryBuilder) rawSensors(snap device.Snapshot, keys []string) []discoveryMessage {
	msgs := make([]discoveryMessage, 0, len(keys))
	for _, key := range keys {
		object := "raw_" + rawObjectChars.ReplaceAllString(strings.ToLower(key), "_")
		cfg := b.base(snap, object, "Raw "+key)
		cfg.StateTopic = b.topics.DeviceState(snap.ID)
		cfg.ValueTemplate = fmt.Sprintf("{{ value_json.state.extra[%q] }}", key)
		cfg.EntityCategory = "diagnostic"
		msgs = append(msgs, discoveryMessage{Topic: b.configTopic(componentSensor, snap.ID, object), Config: cfg})
	}
	return msgs
}

func stateTemplate(f telemetry.Field) string {
	return fmt.Sprintf("{{ value_json.state.%s }}", f)
}

// sensorClasses picks HA device and state classes from the unit.
func sensorClasses(def telemetry.Definition) (deviceClass, stateClass string) {
	if def.Kind == telemetry.KindText {
		return "", ""
	}
	switch def.Unit {
	case "°C":
		return "temperature", "measurement"
	case "Pa":
		return "pressure", "measurement"
	case "h":
		return "duration", "total_increasing"
	case "m³":
		if def.Field == telemetry.FieldTotalWater {
			return "water", "total_increasing"
		}
		return "gas", "total_increasing"
	case "ppm":
		if def.Field == telemetry.FieldCOConcentration {
			return "carbon_monoxide", "measurement"
		}
	}
	if def.Kind == telemetry.KindInteger && def.Unit == "" {
		return "", "total_increasing"
	}
	return "", "measurement"
}

func deviceName(snap device.Snapshot) string {
	return firstNonEmpty(snap.Name, "Water heater "+snap.ID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
