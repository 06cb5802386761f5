package chain

import (
	"errors"
	"fmt"
)

// ErrUnavailable is the only hard failure Resolve returns: every strategy failed and
// there is neither a known-good value nor a static default.
var ErrUnavailable = errors.New("metric unavailable")

// TerminalError marks a failure that retrying the same strategy cannot fix
// (missing credential, unexpected schema).
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err as a TerminalError. A nil err stays nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// InsufficientDataError is returned when a strategy succeeded at the transport level
// but its value does not meet the metric's minimal validity rules.
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string { return "insufficient data: " + e.Reason }

// Insufficient builds an InsufficientDataError.
func Insufficient(format string, args ...any) error {
	return &InsufficientDataError{Reason: fmt.Sprintf(format, args...)}
}
