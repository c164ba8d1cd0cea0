package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// postEvent is the event identifier that carries the property report.
const postEvent = "post"

// preferredFirmwareType is the firmware entry reported as the device version.
const preferredFirmwareType = "3"

type statusDoc struct {
	Profile struct {
		DeviceType     string `json:"deviceType"`
		DeviceFirmware []struct {
			Type    json.RawMessage `json:"type"`
			Version string          `json:"version"`
		} `json:"deviceFirmware"`
	} `json:"profile"`
	Events []struct {
		Identifier string                     `json:"identifier"`
		OutputData map[string]json.RawMessage `json:"outputData"`
	} `json:"events"`
	OutputData map[string]json.RawMessage `json:"outputData"`
}

// Map converts one getDeviceCurrInfo info object into a State.
//
// Map is pure and total: it never fails and never panics. Anything it cannot
// find or parse is left unknown; values outside their usual range are kept
// as reported.
//
// The status document is looked up, in order, under
// appDeviceStatusInfoEntity.statusInfo, then statusInfo. Either may be a
// JSON string or an object. Output data comes from the "post" event, else a
// bare outputData object.
func Map(raw []byte) State {
	state := NewState()

	var info map[string]json.RawMessage
	if err := json.Unmarshal(raw, &info); err != nil {
		return state
	}

	var room struct {
		RoomName string `json:"roomName"`
	}
	if msg, ok := info["appSpaceDeviceMappingEntity"]; ok {
		_ = json.Unmarshal(msg, &room)
		state.RoomName = room.RoomName
	}

	doc, ok := findStatusDoc(info)
	if !ok {
		return state
	}

	state.Model = doc.Profile.DeviceType
	state.Firmware = firmwareVersion(doc)

	output := doc.OutputData
	for _, ev := range doc.Events {
		if ev.Identifier == postEvent {
			output = ev.OutputData
			break
		}
	}
	if output == nil {
		if msg, ok := info["outputData"]; ok {
			_ = json.Unmarshal(msg, &output)
		}
	}

	applyOutput(&state, output)
	return state
}

func findStatusDoc(info map[string]json.RawMessage) (statusDoc, bool) {
	if msg, ok := info["appDeviceStatusInfoEntity"]; ok {
		var entity map[string]json.RawMessage
		if json.Unmarshal(msg, &entity) == nil {
			if doc, ok := decodeStatusInfo(entity["statusInfo"]); ok {
				return doc, true
			}
		}
	}
	return decodeStatusInfo(info["statusInfo"])
}

// decodeStatusInfo accepts statusInfo either as an embedded JSON string or
// as an object.
func decodeStatusInfo(msg json.RawMessage) (statusDoc, bool) {
	var doc statusDoc
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return doc, false
	}

	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil || s == "" {
			return doc, false
		}
		msg = []byte(s)
	}
	if err := json.Unmarshal(msg, &doc); err != nil {
		return statusDoc{}, false
	}
	return doc, true
}

func firmwareVersion(doc statusDoc) string {
	fw := doc.Profile.DeviceFirmware
	for _, f := range fw {
		if rawText(f.Type) == preferredFirmwareType {
			return f.Version
		}
	}
	if len(fw) > 0 {
		return fw[0].Version
	}
	return ""
}

func applyOutput(state *State, output map[string]json.RawMessage) {
	if len(output) == 0 {
		return
	}

	decoded := make(map[string]any, len(output))
	for key, msg := range output {
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || v == nil {
			continue
		}
		decoded[key] = v
	}

	for _, d := range definitions {
		for _, key := range d.Keys {
			v, present := decoded[key]
			if !present {
				continue
			}
			if nv, ok := convert(d.Kind, v); ok {
				state.Values[d.Field] = nv
			}
			break
		}
	}

	for key, v := range decoded {
		if IsMappedKey(key) {
			continue
		}
		state.Extra[key] = stringify(v)
	}
}

// convert coerces a decoded JSON value to the canonical type for kind.
func convert(kind Kind, v any) (any, bool) {
	switch kind {
	case KindNumber, KindInteger:
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		if kind == KindInteger {
			f = math.Round(f)
		}
		return f, true
	case KindBool:
		return toBool(v)
	case KindText:
		s := stringify(v)
		return s, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case int:
		return float64(t), true
	}
	return 0, false
}

func toBool(v any) (any, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64, json.Number, int:
		f, ok := toFloat(t)
		return f != 0, ok
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "on", "yes":
			return true, true
		case "0", "false", "off", "no":
			return false, true
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// rawText reads a JSON scalar as text, e.g. "3" or 3 both give "3".
func rawText(msg json.RawMessage) string {
	var v any
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if dec.Decode(&v) != nil {
		return ""
	}
	return stringify(v)
}
