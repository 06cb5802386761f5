package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the trend direction of a scalar metric between two distinct observations.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionNone Direction = "none"
)

// Polarity says which way a metric improves. It is always configured, never inferred.
type Polarity string

const (
	LowerIsBetter  Polarity = "lower_is_better"  // ranks
	HigherIsBetter Polarity = "higher_is_better" // prices
)

// ParsePolarity validates a configured polarity string.
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(strings.ToLower(strings.TrimSpace(s))); p {
	case LowerIsBetter, HigherIsBetter:
		return p, nil
	default:
		return "", fmt.Errorf("unknown polarity %q", s)
	}
}

// Direct maps a transition from previous to current onto a Direction.
func (p Polarity) Direct(previous, current *float64) Direction {
	if previous == nil || current == nil || *previous == *current {
		return DirectionNone
	}
	improved := *current > *previous
	if p == LowerIsBetter {
		improved = *current < *previous
	}
	if improved {
		return DirectionUp
	}
	return DirectionDown
}

// ScalarObservation is one persisted value of a scalar metric. Rows are append-only.
type ScalarObservation struct {
	Metric     string
	Seq        int64
	Value      *float64
	ObservedAt time.Time
	Source     string
}

// DeltaResult is computed at read time from the two most recent distinct observations.
type DeltaResult struct {
	Current   *float64  `json:"current"`
	Previous  *float64  `json:"previous"`
	Change    *float64  `json:"change"`
	Direction Direction `json:"direction"`
}

// NewDelta builds a DeltaResult; Change is current minus previous when both exist.
func NewDelta(current, previous *float64, dir Direction) DeltaResult {
	d := DeltaResult{Current: current, Previous: previous, Direction: dir}
	if current != nil && previous != nil {
		d.Change = Float(*current - *previous)
	}
	return d
}

// SameValue reports whether two nullable observations hold the same value.
func SameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
