package telemetry

import (
	"encoding/json"
	"maps"
	"math"
)

// State is the telemetry of one device as of its latest successful poll.
//
// A field missing from Values is unknown. Present values are float64 for
// KindNumber and KindInteger, bool for KindBool and string for KindText.
type State struct {
	Values map[Field]any

	Firmware string
	Model    string
	RoomName string

	// Extra holds outputData keys that are not in the field table, as strings.
	Extra map[string]string
}

// NewState returns an empty State with every field unknown.
func NewState() State {
	return State{Values: make(map[Field]any), Extra: make(map[string]string)}
}

// Known reports whether f has a value.
func (s State) Known(f Field) bool {
	_, ok := s.Values[f]
	return ok
}

// Number returns a numeric field.
func (s State) Number(f Field) (float64, bool) {
	v, ok := s.Values[f].(float64)
	return v, ok
}

// Bool returns a boolean field.
func (s State) Bool(f Field) (bool, bool) {
	v, ok := s.Values[f].(bool)
	return v, ok
}

// Text returns a text field.
func (s State) Text(f Field) (string, bool) {
	v, ok := s.Values[f].(string)
	return v, ok
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Values:   make(map[Field]any, len(s.Values)),
		Firmware: s.Firmware,
		Model:    s.Model,
		RoomName: s.RoomName,
		Extra:    make(map[string]string, len(s.Extra)),
	}
	maps.Copy(out.Values, s.Values)
	maps.Copy(out.Extra, s.Extra)
	return out
}

// With returns a copy of s with f set to v. v must already be normalised
// (see Normalize).
func (s State) With(f Field, v any) State {
	out := s.Clone()
	out.Values[f] = v
	return out
}

// Equal compares two normalised field values.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && math.Abs(av-bv) < 1e-9
	default:
		return a == b
	}
}

// Normalize converts v to the canonical type for f's kind. It accepts the
// same inputs as the mapper: JSON strings, numbers and booleans.
func Normalize(f Field, v any) (any, bool) {
	d, ok := byField[f]
	if !ok {
		return nil, false
	}
	return convert(d.Kind, v)
}

// MarshalJSON flattens the state: every known field by name, then metadata
// and extra keys.
//
//	{"power":true,"target_temperature":50,"model":"JSQ31-VJS","extra":{}}
func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Values)+4)
	for f, v := range s.Values {
		out[string(f)] = v
	}
	if s.Firmware != "" {
		out["firmware"] = s.Firmware
	}
	if s.Model != "" {
		out["model"] = s.Model
	}
	if s.RoomName != "" {
		out["room_name"] = s.RoomName
	}
	if len(s.Extra) > 0 {
		out["extra"] = s.Extra
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a State written by MarshalJSON. Unknown names are
// ignored, so a snapshot persisted by an older field table still loads.
func (s *State) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*s = NewState()
	for name, msg := range raw {
		switch name {
		case "firmware":
			_ = json.Unmarshal(msg, &s.Firmware)
		case "model":
			_ = json.Unmarshal(msg, &s.Model)
		case "room_name":
			_ = json.Unmarshal(msg, &s.RoomName)
		case "extra":
			_ = json.Unmarshal(msg, &s.Extra)
			if s.Extra == nil {
				s.Extra = make(map[string]string)
			}
		default:
			d, ok := byField[Field(name)]
			if !ok {
				continue
			}
			var v any
			if err := json.Unmarshal(msg, &v); err != nil {
				continue
			}
			if nv, ok := convert(d.Kind, v); ok {
				s.Values[d.Field] = nv
			}
		}
	}
	return nil
}
