package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
)

const (
	searchAPIName     = "searchapi"
	searchAPIPageSize = 100
)

// SearchAPI reads App Store top charts through searchapi.io. Rate limiting (429) is
// terminal so the chain moves to the next rank source instead of burning quota.
type SearchAPI struct {
	client
	key       string
	collector *collector.Collector
	logger    *slog.Logger
}

// NewSearchAPI creates a SearchAPI provider.
func NewSearchAPI(f collector.Fetcher, baseURL, key string, logger *slog.Logger) *SearchAPI {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := fetch.DefaultPolicy()
	p.MaxRetries = 1
	p.TerminalStatuses = []int{http.StatusTooManyRequests, http.StatusUnauthorized}
	return &SearchAPI{
		client:    client{name: searchAPIName, fetcher: f, baseURL: baseURL, policy: p},
		key:       key,
		collector: collector.New(f, logger),
		logger:    logger.With("provider", searchAPIName),
	}
}

// Ranks returns the finance (top 200) and overall (top 100) positions, falling back to
// app search when the app is not in the overall chart.
func (s *SearchAPI) Ranks(ctx context.Context) (model.Ranks, error) {
	if s.key == "" {
		return model.Ranks{}, missing(searchAPIName, "SEARCHAPI_IO_KEY")
	}
	finance, err := s.chart(ctx, "finance_apps", 2)
	if err != nil {
		return model.Ranks{}, err
	}
	overall, err := s.chart(ctx, "", 1)
	if err != nil {
		return model.Ranks{}, err
	}

	ranks := model.Ranks{Finance: rankIn(finance), Overall: rankIn(overall)}
	if ranks.Overall.Position == nil {
		pos, err := s.search(ctx)
		switch {
		case fetch.IsRateLimited(err):
			return model.Ranks{}, err
		case err != nil:
			s.logger.Warn("search fallback failed, keeping chart result", "error", err)
		case pos != nil:
			ranks.Overall = model.Rank{Position: pos}
		}
	}
	return ranks, nil
}

func (s *SearchAPI) chart(ctx context.Context, category string, pages int) ([]ChartEntry, error) {
	res, err := collector.Collect(ctx, s.collector, &chartPages{s: s, category: category}, collector.Limits{
		MaxPages: pages,
		Policy:   s.policy,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", searchAPIName, err)
	}
	if res.Err != nil {
		return nil, fmt.Errorf("%s: partial chart: %w", searchAPIName, res.Err)
	}
	return res.Records, nil
}

type searchAPIChart struct {
	TopCharts []struct {
		Position *int            `json:"position"`
		ID       json.RawMessage `json:"id"`
		BundleID string          `json:"bundle_id"`
		Title    string          `json:"title"`
	} `json:"top_charts"`
}

// chartPages walks a top chart forward by page index, stopping once the app shows up.
type chartPages struct {
	s        *SearchAPI
	category string
}

func (p *chartPages) Name() string                   { return searchAPIName }
func (p *chartPages) Direction() collector.Direction { return collector.Forward }
func (p *chartPages) Start() collector.Cursor        { return collector.Cursor{Page: 1} }
func (p *chartPages) Key(e ChartEntry) int64         { return int64(e.Position) }

func (p *chartPages) BuildRequest(c collector.Cursor) (fetch.Request, error) {
	q := query(
		"api_key", p.s.key,
		"engine", "apple_app_store_top_charts",
		"store", "us",
		"chart", "top_free",
		"num", strconv.Itoa(searchAPIPageSize),
		"page", strconv.Itoa(c.Page),
	)
	if p.category != "" {
		q.Set("category", p.category)
	}
	return fetch.Get(p.s.url("/api/v1/search"), q), nil
}

func (p *chartPages) ParseResponse(resp *fetch.Response, c collector.Cursor) (collector.Page[ChartEntry], error) {
	var body searchAPIChart
	if err := decode(searchAPIName, resp, &body); err != nil {
		return collector.Page[ChartEntry]{}, err
	}
	offset := (c.Page - 1) * searchAPIPageSize
	entries := make([]ChartEntry, 0, len(body.TopCharts))
	found := false
	for i, app := range body.TopCharts {
		e := ChartEntry{Position: offset + i + 1, ID: idString(app.ID), BundleID: app.BundleID, Title: app.Title}
		if app.Position != nil {
			e.Position = *app.Position
		}
		found = found || isTracked(e)
		entries = append(entries, e)
	}
	return collector.Page[ChartEntry]{
		Records:  entries,
		Next:     collector.Cursor{Page: c.Page + 1},
		Terminal: found || len(entries) < searchAPIPageSize,
	}, nil
}

// search looks the app up directly and returns its overall rank when the result has one.
func (s *SearchAPI) search(ctx context.Context) (*float64, error) {
	var body struct {
		OrganicResults []struct {
			ID          json.RawMessage `json:"id"`
			ProductID   json.RawMessage `json:"product_id"`
			BundleID    string          `json:"bundle_id"`
			RankOverall *float64        `json:"rank_overall"`
			Rank        *float64        `json:"rank"`
		} `json:"organic_results"`
	}
	req := fetch.Get(s.url("/api/v1/search"), query(
		"api_key", s.key, "engine", "apple_app_store", "store", "us", "term", "coinbase", "num", "20"))
	if err := s.getJSON(ctx, req, &body); err != nil {
		return nil, err
	}
	for _, app := range body.OrganicResults {
		if idString(app.ID) != CoinbaseAppleID && idString(app.ProductID) != CoinbaseAppleID && app.BundleID != CoinbaseBundleID {
			continue
		}
		if app.RankOverall != nil {
			return app.RankOverall, nil
		}
		return app.Rank, nil
	}
	return nil, nil
}
