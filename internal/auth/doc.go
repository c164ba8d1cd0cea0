// Package auth issues and verifies the bearer tokens that guard the local
// API.
//
// There are two roles. A viewer may read device state and subscribe to the
// WebSocket stream; a controller may additionally issue commands and
// trigger re-discovery. Tokens are HS256 JWTs signed with api.auth.jwt_secret
// and are validated by signature and expiry only. There is no user store:
// operators mint tokens with `ailinkbridge -issue-token`.
package auth
