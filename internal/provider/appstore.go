package provider

import (
	"context"
	"fmt"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
)

const (
	appStoreName     = "appstore"
	financeGenre     = 6015
	financeChartSize = 200
	overallChartSize = 100
)

// AppStore scrapes the public iTunes RSS top-free charts. It needs no credential.
type AppStore struct {
	client
}

// NewAppStore creates an App Store RSS provider.
func NewAppStore(f collector.Fetcher, baseURL string) *AppStore {
	return &AppStore{client{name: appStoreName, fetcher: f, baseURL: baseURL, policy: fetch.DefaultPolicy()}}
}

type rssFeed struct {
	Feed struct {
		Entry []struct {
			Name struct {
				Label string `json:"label"`
			} `json:"im:name"`
			ID struct {
				Attributes struct {
					ID       string `json:"im:id"`
					BundleID string `json:"im:bundleId"`
				} `json:"attributes"`
			} `json:"id"`
		} `json:"entry"`
	} `json:"feed"`
}

// Ranks reads the finance top 200 and the overall top 100.
func (a *AppStore) Ranks(ctx context.Context) (model.Ranks, error) {
	finance, err := a.chart(ctx, fmt.Sprintf("/us/rss/topfreeapplications/limit=%d/genre=%d/json", financeChartSize, financeGenre))
	if err != nil {
		return model.Ranks{}, err
	}
	overall, err := a.chart(ctx, fmt.Sprintf("/us/rss/topfreeapplications/limit=%d/json", overallChartSize))
	if err != nil {
		return model.Ranks{}, err
	}
	return model.Ranks{Finance: rankIn(finance), Overall: rankIn(overall)}, nil
}

func (a *AppStore) chart(ctx context.Context, path string) ([]ChartEntry, error) {
	var feed rssFeed
	if err := a.getJSON(ctx, fetch.Get(a.url(path), nil), &feed); err != nil {
		return nil, err
	}
	if len(feed.Feed.Entry) == 0 {
		return nil, schema(appStoreName, "empty chart %s", path)
	}
	entries := make([]ChartEntry, len(feed.Feed.Entry))
	for i, e := range feed.Feed.Entry {
		entries[i] = ChartEntry{
			Position: i + 1,
			ID:       e.ID.Attributes.ID,
			BundleID: e.ID.Attributes.BundleID,
			Title:    e.Name.Label,
		}
	}
	return entries, nil
}
