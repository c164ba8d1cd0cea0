package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrAuth matches every *AuthError.
	ErrAuth = errors.New("cloud: authentication rejected")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("cloud: transport failure")

	// ErrAPI matches every *APIError.
	ErrAPI = errors.New("cloud: api error")
)

// AuthError means the vendor rejected the session credentials, or there are
// none. It is never retryable: the user has to supply a new token.
type AuthError struct {
	// StatusCode is the HTTP or vendor status (401/403), zero when the
	// request never left the process.
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("cloud: auth: %s", e.Message)
	}
	return fmt.Sprintf("cloud: auth: status %d: %s", e.StatusCode, e.Message)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// TransportError wraps a failure below the HTTP layer: DNS, connect, TLS,
// read errors and deadlines.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cloud: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause so callers can test for
// context.DeadlineExceeded as well as ErrTransport.
func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// Retryable is always true.
func (e *TransportError) Retryable() bool { return true }

// APIError is any other unsuccessful response: an HTTP status outside 2xx,
// a vendor envelope status other than 200, or a body that is not an
// envelope at all (Code 0).
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: api error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// Retryable reports whether the code is on the transient allow-list.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth trying again on the next cycle.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}
