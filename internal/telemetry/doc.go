// Package telemetry turns Ai-Link status payloads into device state.
//
// The mapping is one table (see Definitions): each entry names a canonical
// Field, the raw outputData keys it is read from, its Kind and unit. Map
// applies the table to a getDeviceCurrInfo info object and never fails;
// fields it cannot find stay unknown.
//
// Raw keys that the table does not cover are kept as strings in
// State.Extra so they can still be surfaced as diagnostic sensors.
package telemetry
