package provider

import (
	"context"
	"net/url"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const yahooName = "yahoo"

// Yahoo implements chart lookups using the Yahoo Finance public API.
type Yahoo struct {
	client
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahoo creates a Yahoo Finance provider.
func NewYahoo(f collector.Fetcher, baseURL string) *Yahoo {
	return &Yahoo{
		client: client{name: yahooName, fetcher: f, baseURL: baseURL, policy: fetch.DefaultPolicy()},
		SymbolMap: map[string]string{
			"BTC":     "BTC-USD",
			"BTCUSDT": "BTC-USD",
		},
	}
}

func (y *Yahoo) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Chart fetches bars for interval ("1d", "1wk", "1mo") over rng ("1y", "5y", "max").
func (y *Yahoo) Chart(ctx context.Context, symbol, interval, rng string) ([]normalize.RawRecord, error) {
	req := fetch.Get(y.url("/v8/finance/chart/"+url.PathEscape(y.yahooSymbol(symbol))),
		query("interval", interval, "range", rng))

	var chart yahooChart
	if err := y.getJSON(ctx, req, &chart); err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		return nil, schema(yahooName, "api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, schema(yahooName, "no data returned")
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]normalize.RawRecord, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := at(quote.Close, i)
		if c == nil {
			continue // skip null bars (holidays etc.)
		}
		bars = append(bars, normalize.RawRecord{
			Time:   ts,
			Unit:   normalize.Seconds,
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  *c,
			Volume: at(quote.Volume, i),
		})
	}
	return bars, nil
}

// Closes fetches the last n bars of interval and keeps only their closes.
func (y *Yahoo) Closes(ctx context.Context, symbol, interval string, n int) ([]normalize.RawRecord, error) {
	bars, err := y.Chart(ctx, symbol, interval, yahooRange(interval, n))
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// yahooRange picks the smallest chart range that covers n bars of interval.
func yahooRange(interval string, n int) string {
	switch interval {
	case "1mo":
		if n <= 12 {
			return "1y"
		}
		return "max"
	case "1wk":
		if n <= 52 {
			return "1y"
		}
		if n <= 260 {
			return "5y"
		}
		return "max"
	default:
		if n <= 30 {
			return "1mo"
		}
		if n <= 365 {
			return "1y"
		}
		if n <= 730 {
			return "2y"
		}
		return "5y"
	}
}

func at(vals []*float64, i int) *float64 {
	if i >= len(vals) || vals[i] == nil {
		return nil
	}
	return model.Float(*vals[i])
}
