package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"TopSignals/internal/model"
)

const maxInsertAttempts = 3

// Tracker records scalar observations and derives the sticky delta for each one.
// Read-then-write is serialized per metric inside the process; the store's
// sequence check covers concurrent writers in other processes.
type Tracker struct {
	store    Store
	polarity map[string]model.Polarity
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a Tracker. Every tracked metric must have an explicit polarity.
func NewTracker(store Store, polarity map[string]model.Polarity, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		store:    store,
		polarity: polarity,
		logger:   logger.With("component", "snapshot"),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lock(metric string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[metric]
	if !ok {
		l = &sync.Mutex{}
		t.locks[metric] = l
	}
	return l
}

// RecordAndDiff stores value when it differs from the latest stored value and returns
// the delta against the most recent distinct previous value.
//
// A store failure never loses the current value: the delta comes back with a nil
// previous, direction none and a *PersistenceError the caller may log.
func (t *Tracker) RecordAndDiff(ctx context.Context, metric string, value *float64, source string) (model.DeltaResult, error) {
	pol, ok := t.polarity[metric]
	if !ok {
		return model.NewDelta(value, nil, model.DirectionNone), fmt.Errorf("snapshot: no polarity configured for metric %q", metric)
	}

	l := t.lock(metric)
	l.Lock()
	defer l.Unlock()

	for attempt := 1; ; attempt++ {
		delta, err := t.recordOnce(ctx, metric, value, source, pol)
		if !errors.Is(err, ErrConflict) {
			return delta, err
		}
		if attempt >= maxInsertAttempts {
			t.logger.Warn("gave up after repeated sequence conflicts", "metric", metric, "attempts", attempt)
			return model.NewDelta(value, nil, model.DirectionNone), &PersistenceError{Op: "insert", Metric: metric, Err: err}
		}
		t.logger.Debug("sequence conflict, re-reading", "metric", metric, "attempt", attempt)
	}
}

func (t *Tracker) recordOnce(ctx context.Context, metric string, value *float64, source string, pol model.Polarity) (model.DeltaResult, error) {
	latest, err := t.store.Latest(ctx, metric)
	if err != nil {
		return t.recovered("latest", metric, value, err)
	}

	if latest != nil && model.SameValue(latest.Value, value) {
		prev, err := t.store.LatestDifferent(ctx, metric, value)
		if err != nil {
			return t.recovered("latest_different", metric, value, err)
		}
		var previous *float64
		if prev != nil {
			previous = prev.Value
		}
		return model.NewDelta(value, previous, model.DirectionNone), nil
	}

	obs := model.ScalarObservation{Metric: metric, Seq: 1, Value: value, ObservedAt: t.now().UTC(), Source: source}
	var previous *float64
	if latest != nil {
		obs.Seq = latest.Seq + 1
		previous = latest.Value
	}
	if err := t.store.Insert(ctx, obs); err != nil {
		if errors.Is(err, ErrConflict) {
			return model.DeltaResult{}, err
		}
		return t.recovered("insert", metric, value, err)
	}
	t.logger.Info("observation recorded", "metric", metric, "seq", obs.Seq, "value", fmtValue(value), "previous", fmtValue(previous))
	return model.NewDelta(value, previous, pol.Direct(previous, value)), nil
}

func (t *Tracker) recovered(op, metric string, value *float64, err error) (model.DeltaResult, error) {
	t.logger.Error("snapshot store failed, reporting value without trend", "op", op, "metric", metric, "error", err)
	return model.NewDelta(value, nil, model.DirectionNone), &PersistenceError{Op: op, Metric: metric, Err: err}
}

func fmtValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
