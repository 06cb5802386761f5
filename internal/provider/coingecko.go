package provider

import (
	"context"
	"encoding/json"
	"strconv"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const coinGeckoName = "coingecko"

// CoinGecko reads OHLC and market_chart data. The demo key is optional.
type CoinGecko struct {
	client
	apiKey string
}

// NewCoinGecko creates a CoinGecko provider.
func NewCoinGecko(f collector.Fetcher, baseURL, apiKey string) *CoinGecko {
	return &CoinGecko{
		client: client{name: coinGeckoName, fetcher: f, baseURL: baseURL, policy: fetch.DefaultPolicy()},
		apiKey: apiKey,
	}
}

func (g *CoinGecko) request(path string, days int, extra ...string) fetch.Request {
	q := query(append([]string{"vs_currency", "usd", "days", strconv.Itoa(days)}, extra...)...)
	req := fetch.Get(g.url(path), q).WithHeader("Accept", "application/json")
	if g.apiKey != "" {
		req = req.WithHeader("x-cg-demo-api-key", g.apiKey)
	}
	return req
}

// OHLC returns candles for the last `days` days ([ts, open, high, low, close] rows, ms).
func (g *CoinGecko) OHLC(ctx context.Context, days int) ([]normalize.RawRecord, error) {
	var rows [][]json.Number
	if err := g.getJSON(ctx, g.request("/api/v3/coins/bitcoin/ohlc", days), &rows); err != nil {
		return nil, err
	}
	out := make([]normalize.RawRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, schema(coinGeckoName, "ohlc row %d has %d fields", i, len(row))
		}
		ts, err := row[0].Int64()
		if err != nil {
			return nil, schema(coinGeckoName, "ohlc row %d time: %v", i, err)
		}
		vals := make([]float64, 4)
		for j := range vals {
			f, ok := number(row[j+1])
			if !ok {
				return nil, schema(coinGeckoName, "ohlc row %d field %d", i, j+1)
			}
			vals[j] = f
		}
		out = append(out, normalize.RawRecord{
			Time:  ts,
			Unit:  normalize.Milliseconds,
			Open:  model.Float(vals[0]),
			High:  model.Float(vals[1]),
			Low:   model.Float(vals[2]),
			Close: vals[3],
		})
	}
	return out, nil
}

// MarketChart returns [ts, price] points for the last `days` days.
func (g *CoinGecko) MarketChart(ctx context.Context, days int) ([]normalize.RawRecord, error) {
	var body struct {
		Prices [][]json.Number `json:"prices"`
	}
	if err := g.getJSON(ctx, g.request("/api/v3/coins/bitcoin/market_chart", days, "interval", "daily", "precision", "full"), &body); err != nil {
		return nil, err
	}
	out := make([]normalize.RawRecord, 0, len(body.Prices))
	for i, p := range body.Prices {
		if len(p) < 2 {
			return nil, schema(coinGeckoName, "price point %d has %d fields", i, len(p))
		}
		ts, err := p[0].Int64()
		if err != nil {
			f, ok := number(p[0])
			if !ok {
				return nil, schema(coinGeckoName, "price point %d time", i)
			}
			ts = int64(f)
		}
		v, ok := number(p[1])
		if !ok {
			return nil, schema(coinGeckoName, "price point %d value", i)
		}
		out = append(out, normalize.RawRecord{Time: ts, Unit: normalize.Milliseconds, Close: v})
	}
	return out, nil
}
