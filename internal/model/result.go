package model

import "time"

// Outcome classifies one provider attempt inside a fallback chain.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetryable Outcome = "retryable"
	OutcomeTerminal  Outcome = "terminal"
)

// ProviderAttempt is recorded per strategy tried. Used for logs and telemetry only.
type ProviderAttempt struct {
	Provider      string        `json:"provider"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"-"`
	Succeeded     bool          `json:"succeeded"`
	Outcome       Outcome       `json:"outcome"`
	HTTPStatus    int           `json:"httpStatus,omitempty"`
	ErrorKind     string        `json:"errorKind,omitempty"`
	ItemsReturned int           `json:"itemsReturned"`
}

// SourceStatic marks a documented static default served after every provider failed.
const SourceStatic = "static"

// MetricResult is what a resolved metric looks like to callers. It never carries a provider error.
type MetricResult[T any] struct {
	Key        string            `json:"key"`
	Value      T                 `json:"value"`
	Source     string            `json:"source"`
	Stale      bool              `json:"stale"`
	Degraded   bool              `json:"degraded"`
	ResolvedAt time.Time         `json:"resolvedAt"`
	Attempts   []ProviderAttempt `json:"-"`
}
