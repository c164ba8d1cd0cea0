package gateway

import (
	"fmt"
	"math"
	"strconv"

	"github.com/nerrad567/ailink-bridge/internal/telemetry"
)

// Command limits enforced before anything is sent to the cloud.
const (
	MinTargetTemperature = 35
	MaxTargetTemperature = 70

	MinCruiseTimer = 1
	MaxCruiseTimer = 60
)

// Intent is a requested change to one writable field.
type Intent struct {
	Field telemetry.Field `json:"field"`
	Value any             `json:"value"`
}

// Power switches the heater on or off.
func Power(on bool) Intent { return Intent{Field: telemetry.FieldPower, Value: on} }

// TargetTemperature sets the outlet set-point in °C.
func TargetTemperature(celsius int) Intent {
	return Intent{Field: telemetry.FieldTargetTemperature, Value: celsius}
}

// Boost toggles pressurised (boost) mode.
func Boost(on bool) Intent { return Intent{Field: telemetry.FieldBoost, Value: on} }

// Cruise toggles the recirculation pump.
func Cruise(on bool) Intent { return Intent{Field: telemetry.FieldCruise, Value: on} }

// EcoHalf toggles half-pipe (eco) recirculation.
func EcoHalf(on bool) Intent { return Intent{Field: telemetry.FieldEcoHalf, Value: on} }

// CruiseTimer sets the recirculation run time in minutes.
func CruiseTimer(minutes int) Intent {
	return Intent{Field: telemetry.FieldCruiseTimer, Value: minutes}
}

// vendorCommand is how one writable field is sent to invokeMethod.
type vendorCommand struct {
	identifier string
	inputKey   string
	min, max   float64 // zero max: no range check
}

var vendorCommands = map[telemetry.Field]vendorCommand{
	telemetry.FieldPower:             {identifier: "powerOnOff", inputKey: "powerStatus"},
	telemetry.FieldTargetTemperature: {identifier: "setTemp", inputKey: "waterTemp", min: MinTargetTemperature, max: MaxTargetTemperature},
	telemetry.FieldBoost:             {identifier: "pressurizeOnOff", inputKey: "pressurizeStatus"},
	telemetry.FieldCruise:            {identifier: "WaterCruiseOnOff", inputKey: "cruiseStatus"},
	telemetry.FieldEcoHalf:           {identifier: "setHalfPipeCircle", inputKey: "setHalfPipeCircle"},
	telemetry.FieldCruiseTimer:       {identifier: "WaterCruiseTimer", inputKey: "WaterCruiseTimer", min: MinCruiseTimer, max: MaxCruiseTimer},
}

// Writable reports whether f can be commanded.
func Writable(f telemetry.Field) bool {
	_, ok := vendorCommands[f]
	return ok
}

// validated is an intent that passed every local check.
type validated struct {
	field      telemetry.Field
	value      any // normalised: bool or whole float64
	identifier string
	input      map[string]string
}

// validate normalises the intent value and builds the vendor call.
// The value may be a Go bool or number, or its string form as received
// over MQTT ("ON", "1", "55").
func validate(in Intent) (validated, error) {
	cmd, ok := vendorCommands[in.Field]
	if !ok {
		return validated{}, &ValidationError{Field: string(in.Field), Reason: "field is not writable"}
	}
	if in.Value == nil {
		return validated{}, &ValidationError{Field: string(in.Field), Reason: "value is required"}
	}

	def, _ := telemetry.Lookup(in.Field)

	if def.Kind == telemetry.KindBool {
		v, ok := telemetry.Normalize(in.Field, in.Value)
		if !ok {
			return validated{}, &ValidationError{Field: string(in.Field), Value: in.Value, Reason: "expected on/off"}
		}
		raw := "0"
		if v.(bool) {
			raw = "1"
		}
		return validated{
			field:      in.Field,
			value:      v,
			identifier: cmd.identifier,
			input:      map[string]string{cmd.inputKey: raw},
		}, nil
	}

	n, ok := wholeNumber(in.Value)
	if !ok {
		return validated{}, &ValidationError{Field: string(in.Field), Value: in.Value, Reason: "expected a whole number"}
	}
	if cmd.max > 0 && (n < cmd.min || n > cmd.max) {
		return validated{}, &ValidationError{
			Field:  string(in.Field),
			Value:  in.Value,
			Reason: fmt.Sprintf("must be between %g and %g", cmd.min, cmd.max),
		}
	}
	return validated{
		field:      in.Field,
		value:      n,
		identifier: cmd.identifier,
		input:      map[string]string{cmd.inputKey: strconv.FormatFloat(n, 'f', 0, 64)},
	}, nil
}

// wholeNumber accepts ints, integral floats and their string forms.
// Fractional values are rejected, not rounded.
func wholeNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case float64:
		f = t
	case string:
		p, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return f, true
}
