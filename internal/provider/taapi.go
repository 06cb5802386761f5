package provider

import (
	"context"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
)

const taapiName = "taapi"

// TAAPI reads the real-time BTC/USDT price from taapi.io. It requires a secret.
type TAAPI struct {
	client
	secret string
}

// NewTAAPI creates a TAAPI provider.
func NewTAAPI(f collector.Fetcher, baseURL, secret string) *TAAPI {
	p := fetch.DefaultPolicy()
	p.MaxRetries = 1
	return &TAAPI{
		client: client{name: taapiName, fetcher: f, baseURL: baseURL, policy: p},
		secret: secret,
	}
}

// Price returns the current price.
func (t *TAAPI) Price(ctx context.Context) (float64, error) {
	if t.secret == "" {
		return 0, missing(taapiName, "TAAPI_SECRET")
	}
	var body struct {
		Value *float64 `json:"value"`
	}
	req := fetch.Get(t.url("/price"), query("secret", t.secret, "exchange", "binance", "symbol", "BTC/USDT"))
	if err := t.getJSON(ctx, req, &body); err != nil {
		return 0, err
	}
	if body.Value == nil || *body.Value <= 0 {
		return 0, schema(taapiName, "missing value")
	}
	return *body.Value, nil
}
