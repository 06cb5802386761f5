package collector

import (
	"context"
	"time"

	"TopSignals/internal/fetch"
)

// Fetcher performs one bounded-retry fetch. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request, p fetch.Policy) (*fetch.Response, error)
}

// Direction is the walk direction of a paginated collection.
type Direction int

const (
	// Backward walks from the newest window towards older data; pages are prepended.
	Backward Direction = iota
	// Forward walks page indexes upward; pages are appended.
	Forward
)

// Cursor positions a page request: an end-of-window timestamp or a page index.
type Cursor struct {
	Time time.Time
	Page int
}

// Page is one parsed provider response.
type Page[R any] struct {
	Records []R
	Next    Cursor
	// Terminal marks a definitive end (the provider has nothing past this cursor).
	Terminal bool
}

// PageStrategy knows how to talk to one paginated provider endpoint.
type PageStrategy[R any] interface {
	Name() string
	Direction() Direction
	Start() Cursor
	BuildRequest(c Cursor) (fetch.Request, error)
	ParseResponse(resp *fetch.Response, c Cursor) (Page[R], error)
	// Key identifies a record for de-duplication across pages.
	Key(r R) int64
}
