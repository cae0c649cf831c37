package rtc

import (
	"errors"
	"fmt"
)

var (
	ErrClosed             = errors.New("endpoint closed")
	ErrNotConnected       = errors.New("endpoint not connected")
	ErrChannelNotOpen     = errors.New("control channel not open")
	ErrCaptureFailed      = errors.New("capture failed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrConnectionFailed   = errors.New("peer connection failed")
)

// Error ties a transport failure to the endpoint operation that hit it.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
