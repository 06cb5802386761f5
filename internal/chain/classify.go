package chain

import (
	"context"
	"errors"
	"net/http"

	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
)

// Classify maps a strategy error onto an attempt outcome. Both failure outcomes
// advance the chain; the distinction is kept for logs and telemetry.
func Classify(err error) model.Outcome {
	if err == nil {
		return model.OutcomeSuccess
	}
	var te *TerminalError
	var ie *InsufficientDataError
	switch {
	case errors.As(err, &te), errors.As(err, &ie):
		return model.OutcomeTerminal
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.OutcomeRetryable
	}
	if fe, ok := fetch.AsError(err); ok {
		if fe.Transient() {
			return model.OutcomeRetryable
		}
		return model.OutcomeTerminal
	}
	return model.OutcomeRetryable
}

// errorKind is the short label recorded on a ProviderAttempt.
func errorKind(err error) (kind string, status int) {
	var te *TerminalError
	var ie *InsufficientDataError
	if fe, ok := fetch.AsError(err); ok {
		kind, status = string(fe.Kind), fe.LastStatus
	}
	switch {
	case kind != "":
	case errors.As(err, &ie):
		kind = "insufficient_data"
	case errors.Is(err, context.DeadlineExceeded):
		kind = string(fetch.KindTimeout)
	case errors.As(err, &te):
		kind = "terminal"
	default:
		kind = "error"
	}
	if status == http.StatusTooManyRequests {
		kind = string(fetch.KindRateLimited)
	}
	return kind, status
}
