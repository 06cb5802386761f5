// Package snapshot persists scalar metric observations and derives sticky deltas from them.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"TopSignals/internal/model"
)

// ErrConflict is returned by Insert when another writer already stored the given sequence number.
var ErrConflict = errors.New("snapshot: sequence already taken")

// Store persists observation history. Rows are append-only per metric and ordered by Seq.
type Store interface {
	// Latest returns the newest observation, or nil when the metric has none.
	Latest(ctx context.Context, metric string) (*model.ScalarObservation, error)
	// LatestDifferent returns the newest observation whose value differs from excluding
	// (null-aware), or nil when there is none.
	LatestDifferent(ctx context.Context, metric string, excluding *float64) (*model.ScalarObservation, error)
	// Insert appends obs. obs.Seq must be exactly one past the current latest; a taken
	// sequence number yields ErrConflict.
	Insert(ctx context.Context, obs model.ScalarObservation) error
	Close() error
}

// PersistenceError wraps a store failure. The tracker recovers from it locally.
type PersistenceError struct {
	Op     string
	Metric string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Metric, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
