// Package provider holds the concrete market data sources. Each one is a thin
// declarative layer over the shared fetcher and collector.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"TopSignals/internal/chain"
	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
)

// ErrMissingCredential is returned (wrapped as terminal) when a provider needs a key that is not configured.
var ErrMissingCredential = errors.New("missing credential")

// Endpoints are the provider base URLs. Tests point them at local servers.
type Endpoints struct {
	Binance       string
	CryptoCompare string
	CoinGecko     string
	Yahoo         string
	TAAPI         string
	SearchAPI     string
	AppleRSS      string
}

// DefaultEndpoints returns the production base URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Binance:       "https://data-api.binance.vision",
		CryptoCompare: "https://min-api.cryptocompare.com",
		CoinGecko:     "https://api.coingecko.com",
		Yahoo:         "https://query1.finance.yahoo.com",
		TAAPI:         "https://api.taapi.io",
		SearchAPI:     "https://www.searchapi.io",
		AppleRSS:      "https://itunes.apple.com",
	}
}

// client is embedded by every provider.
type client struct {
	name    string
	fetcher collector.Fetcher
	baseURL string
	policy  fetch.Policy
}

// Policy is the retry policy the provider's requests run under.
func (c client) Policy() fetch.Policy { return c.policy }

func (c client) url(path string) string {
	return strings.TrimRight(c.baseURL, "/") + path
}

// getJSON fetches path and decodes the body into v.
func (c client) getJSON(ctx context.Context, req fetch.Request, v any) error {
	resp, err := c.fetcher.Fetch(ctx, req, c.policy)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return decode(c.name, resp, v)
}

func decode(name string, resp *fetch.Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return chain.Terminal(fmt.Errorf("%s: decode: %w", name, err))
	}
	return nil
}

func missing(name, env string) error {
	return chain.Terminal(fmt.Errorf("%s: %s not set: %w", name, env, ErrMissingCredential))
}

func schema(name, format string, args ...any) error {
	return chain.Terminal(fmt.Errorf("%s: unexpected response: %s", name, fmt.Sprintf(format, args...)))
}

// number reads a JSON value that providers send either as a number or a numeric string.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func query(kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}
