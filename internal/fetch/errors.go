package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a fetch failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindHTTP        Kind = "http_error"
	KindNetwork     Kind = "network"
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
)

// Error is returned once a fetch gives up. It is an expected outcome, not a bug.
type Error struct {
	Kind       Kind
	LastStatus int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s after %d attempt(s)", e.Kind, e.Attempts)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(", last status %d", e.LastStatus)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether another provider or a later call might succeed.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindRateLimited:
		return true
	case KindHTTP:
		return e.LastStatus >= http.StatusInternalServerError || e.LastStatus == http.StatusRequestTimeout
	default:
		return false
	}
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsNotFound reports whether err is a definitive not-found/empty signal.
func IsNotFound(err error) bool {
	fe, ok := AsError(err)
	return ok && fe.Kind == KindNotFound
}

// IsRateLimited reports whether err came from a rate-limit status.
func IsRateLimited(err error) bool {
	fe, ok := AsError(err)
	return ok && fe.Kind == KindRateLimited
}
