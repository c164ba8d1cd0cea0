// Package api implements the local HTTP REST API and WebSocket stream of
// the Ai-Link bridge.
//
// This package provides:
//   - Read endpoints for heater snapshots and bridge health
//   - A command endpoint that goes through the gateway's validation and
//     optimistic update
//   - On-demand cloud re-discovery
//   - A WebSocket hub relaying gateway events on "device.state_changed"
//     and "devices.changed"
//
// # Security
//
// When api.auth.enabled is set every route except /health requires a
// bearer JWT (see package auth). Viewers may read; controllers may also
// command and re-discover. Browsers that cannot set headers on a
// WebSocket upgrade may pass the token as ?access_token=.
package api
