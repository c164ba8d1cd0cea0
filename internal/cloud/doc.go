// Package cloud talks to the A.O. Smith Ai-Link cloud service.
//
// Everything the vendor exposes is a signed JSON POST under
// https://ailink-api.hotwater.com.cn/AiLinkService. The package is split in
// three layers:
//
//   - Session: immutable credentials and request signing (BuildRequest)
//   - Transport: executes a request and classifies the outcome (Send)
//   - Client: the three endpoints the bridge uses
//
// # Errors
//
// Every failure is one of:
//
//	*AuthError       HTTP or vendor status 401/403, or no credentials
//	*TransportError  network failure or timeout (always retryable)
//	*APIError        any other non-success, with the vendor or HTTP code
//
// Match them with errors.As, or with errors.Is against ErrAuth,
// ErrTransport and ErrAPI.
//
// # Credentials
//
// The token, user, family and cookie come from the mobile app and are never
// refreshed here. An expired token shows up as *AuthError and needs a new
// token and a restart. Tokens and cookies are never logged.
package cloud
