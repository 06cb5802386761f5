// Package collector walks paginated provider endpoints into one raw record sequence.
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"TopSignals/internal/fetch"
)

// Reason records why a collection stopped.
type Reason string

const (
	ReasonEmpty       Reason = "empty_page"
	ReasonBoundary    Reason = "boundary"
	ReasonRecordCap   Reason = "record_cap"
	ReasonPageCap     Reason = "page_cap"
	ReasonFetchFailed Reason = "fetch_failed"
)

// Limits bounds one collection run.
type Limits struct {
	// Boundary stops a backward walk once the cursor moves before it,
	// or a forward walk once a time cursor moves after it. Zero disables it.
	Boundary time.Time
	// MaxRecords is a sanity cap; collection stops once the count exceeds it.
	MaxRecords int
	// MaxPages stops collection after that many pages.
	MaxPages int
	// PageDelay is inserted between successful page requests.
	PageDelay time.Duration
	Policy    fetch.Policy
}

// Result is the raw output of a collection run.
type Result[R any] struct {
	Records  []R
	Pages    int
	Requests int
	Reason   Reason
	// Err is set when Reason is ReasonFetchFailed and partial records were kept.
	Err error
}

// Collector drives a PageStrategy through the bounded retry fetcher.
type Collector struct {
	fetcher Fetcher
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Collector.
func New(fetcher Fetcher, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Collector{
		fetcher: fetcher,
		logger:  logger.With("component", "collector"),
		sleep:   fetch.Sleep,
	}
}

// Collect walks s page by page until a termination condition is met.
// It returns an error only when not a single page could be fetched.
func Collect[R any](ctx context.Context, c *Collector, s PageStrategy[R], lim Limits) (Result[R], error) {
	var (
		res     Result[R]
		seen    = make(map[int64]struct{})
		cursor  = s.Start()
		empties int
		log     = c.logger.With("provider", s.Name())
	)

	for {
		req, err := s.BuildRequest(cursor)
		if err != nil {
			return res, fmt.Errorf("%s: build request: %w", s.Name(), err)
		}
		res.Requests++

		page, err := fetchPage(ctx, c.fetcher, s, req, cursor, lim.Policy)
		if err != nil {
			if res.Pages == 0 {
				return res, fmt.Errorf("%s: first page: %w", s.Name(), err)
			}
			log.Warn("page failed, keeping partial series", "pages", res.Pages, "records", len(res.Records), "error", err)
			res.Reason, res.Err = ReasonFetchFailed, err
			return res, nil
		}
		res.Pages++

		fresh := make([]R, 0, len(page.Records))
		for _, r := range page.Records {
			k := s.Key(r)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			fresh = append(fresh, r)
		}
		if s.Direction() == Backward {
			res.Records = append(fresh, res.Records...)
		} else {
			res.Records = append(res.Records, fresh...)
		}
		if len(fresh) == 0 {
			empties++
		} else {
			empties = 0
		}
		log.Debug("page collected", "page", res.Pages, "unique", len(fresh), "total", len(res.Records))

		if reason, done := stop(s.Direction(), page, empties, len(res.Records), res.Pages, lim); done {
			res.Reason = reason
			log.Info("collection finished", "reason", reason, "pages", res.Pages, "records", len(res.Records))
			return res, nil
		}
		cursor = page.Next

		if err := c.sleep(ctx, lim.PageDelay); err != nil {
			res.Reason, res.Err = ReasonFetchFailed, err
			return res, nil
		}
	}
}

// fetchPage fetches and parses one page. A not-found answer is a terminal empty page.
func fetchPage[R any](ctx context.Context, f Fetcher, s PageStrategy[R], req fetch.Request, cursor Cursor, p fetch.Policy) (Page[R], error) {
	resp, err := f.Fetch(ctx, req, p)
	if err != nil {
		if fetch.IsNotFound(err) {
			return Page[R]{Next: cursor, Terminal: true}, nil
		}
		return Page[R]{}, err
	}
	page, err := s.ParseResponse(resp, cursor)
	if err != nil {
		return Page[R]{}, fmt.Errorf("parse: %w", err)
	}
	return page, nil
}

func stop[R any](dir Direction, page Page[R], empties, records, pages int, lim Limits) (Reason, bool) {
	switch {
	case page.Terminal || empties >= 2:
		return ReasonEmpty, true
	case crossed(dir, page.Next, lim.Boundary):
		return ReasonBoundary, true
	case lim.MaxRecords > 0 && records > lim.MaxRecords:
		return ReasonRecordCap, true
	case lim.MaxPages > 0 && pages >= lim.MaxPages:
		return ReasonPageCap, true
	}
	return "", false
}

func crossed(dir Direction, next Cursor, boundary time.Time) bool {
	if boundary.IsZero() || next.Time.IsZero() {
		return false
	}
	if dir == Backward {
		return next.Time.Before(boundary)
	}
	return next.Time.After(boundary)
}
