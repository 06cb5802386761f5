// Package chain resolves a metric by trying provider strategies in priority order.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"TopSignals/internal/model"
)

// Strategy is one way of acquiring a metric value.
type Strategy[T any] struct {
	Name    string
	Acquire func(ctx context.Context) (T, error)
	// Classify overrides the default failure classification.
	Classify func(err error) model.Outcome
}

// Observer receives every provider attempt.
type Observer interface {
	ObserveAttempt(metric string, a model.ProviderAttempt)
}

// Chain is the ordered strategy list for one metric key.
type Chain[T any] struct {
	Key        string
	Strategies []Strategy[T]
	// Validate rejects values that are not minimally valid. Nil accepts everything.
	Validate func(T) error
	// Count reports items returned, for attempt records.
	Count func(T) int
	// LastGood returns the last known-good result, typically from the result cache.
	LastGood func(key string) (model.MetricResult[T], bool)
	// Static is the documented default served when nothing else is available.
	Static *T
	// AttemptTimeout bounds each strategy; zero leaves only the caller's deadline.
	AttemptTimeout time.Duration
	Observer       Observer
	Logger         *slog.Logger
	Now            func() time.Time
}

// Resolve walks the strategies until one yields a valid value. On exhaustion it
// falls back to the last known-good value (stale) and then to the static default.
// The returned error is non-nil only when none of those exist, and wraps ErrUnavailable.
func (c *Chain[T]) Resolve(ctx context.Context) (model.MetricResult[T], error) {
	now := c.Now
	if now == nil {
		now = time.Now
	}
	log := c.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("metric", c.Key)

	attempts := make([]model.ProviderAttempt, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		if ctx.Err() != nil {
			log.Warn("caller context done, skipping remaining strategies", "next", s.Name, "error", ctx.Err())
			break
		}
		v, a := c.try(ctx, s, now)
		attempts = append(attempts, a)
		if c.Observer != nil {
			c.Observer.ObserveAttempt(c.Key, a)
		}
		if a.Succeeded {
			return model.MetricResult[T]{
				Key:        c.Key,
				Value:      v,
				Source:     s.Name,
				ResolvedAt: now(),
				Attempts:   attempts,
			}, nil
		}
	}

	if c.LastGood != nil {
		if prev, ok := c.LastGood(c.Key); ok {
			log.Warn("all providers failed, serving last known-good value", "source", prev.Source, "resolved_at", prev.ResolvedAt)
			prev.Stale = true
			prev.Degraded = true
			prev.Attempts = attempts
			return prev, nil
		}
	}
	if c.Static != nil {
		log.Warn("all providers failed, serving static default")
		return model.MetricResult[T]{
			Key:        c.Key,
			Value:      *c.Static,
			Source:     model.SourceStatic,
			Degraded:   true,
			ResolvedAt: now(),
			Attempts:   attempts,
		}, nil
	}
	log.Error("all providers failed and no fallback value exists", "attempts", len(attempts))
	return model.MetricResult[T]{Key: c.Key, Attempts: attempts}, fmt.Errorf("%s: %w", c.Key, ErrUnavailable)
}

func (c *Chain[T]) try(ctx context.Context, s Strategy[T], now func() time.Time) (T, model.ProviderAttempt) {
	a := model.ProviderAttempt{Provider: s.Name, StartedAt: now()}
	actx := ctx
	if c.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.AttemptTimeout)
		defer cancel()
	}

	v, err := s.Acquire(actx)
	if err == nil && c.Validate != nil {
		if verr := c.Validate(v); verr != nil {
			err = verr
			var ie *InsufficientDataError
			if !errors.As(verr, &ie) {
				err = &InsufficientDataError{Reason: verr.Error()}
			}
		}
	}
	a.Duration = now().Sub(a.StartedAt)
	if err == nil && c.Count != nil {
		a.ItemsReturned = c.Count(v)
	}

	log := c.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err == nil {
		a.Succeeded, a.Outcome = true, model.OutcomeSuccess
		log.Info("provider succeeded", "metric", c.Key, "provider", s.Name, "items", a.ItemsReturned, "duration", a.Duration)
		return v, a
	}

	classify := s.Classify
	if classify == nil {
		classify = Classify
	}
	a.Outcome = classify(err)
	a.ErrorKind, a.HTTPStatus = errorKind(err)
	log.Warn("provider failed, advancing chain", "metric", c.Key, "provider", s.Name,
		"outcome", a.Outcome, "kind", a.ErrorKind, "status", a.HTTPStatus, "error", err)
	var zero T
	return zero, a
}
