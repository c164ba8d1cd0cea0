package gateway

import (
	"errors"
	"fmt"
)

// Domain errors for the gateway package.
var (
	// ErrClosed is returned by every operation once Stop has begun.
	ErrClosed = errors.New("gateway: closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("gateway: already started")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("gateway: invalid command")
)

// ValidationError rejects a command before any network call is made.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("gateway: invalid command for %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("gateway: invalid command %q=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
