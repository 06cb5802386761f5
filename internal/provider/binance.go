package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const (
	binanceName      = "binance"
	binanceSymbol    = "BTCUSDT"
	binancePageLimit = 1000
)

// BinanceListing is the first day of BTCUSDT daily klines on Binance.
var BinanceListing = time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC)

// Binance reads klines and the spot price from the public data mirror.
type Binance struct {
	client
}

// NewBinance creates a Binance provider.
func NewBinance(f collector.Fetcher, baseURL string) *Binance {
	return &Binance{client{name: binanceName, fetcher: f, baseURL: baseURL, policy: fetch.DefaultPolicy()}}
}

// Klines fetches a single page of the most recent klines for interval ("1d", "1w", "1M").
func (b *Binance) Klines(ctx context.Context, interval string, limit int) ([]normalize.RawRecord, error) {
	req := fetch.Get(b.url("/api/v3/klines"), query(
		"symbol", binanceSymbol, "interval", interval, "limit", strconv.Itoa(limit)))
	resp, err := b.fetcher.Fetch(ctx, req, b.policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	return parseKlines(resp)
}

// Price returns the last traded BTCUSDT price.
func (b *Binance) Price(ctx context.Context) (float64, error) {
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	req := fetch.Get(b.url("/api/v3/ticker/price"), query("symbol", binanceSymbol))
	if err := b.getJSON(ctx, req, &ticker); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || p <= 0 {
		return 0, schema(b.name, "price %q", ticker.Price)
	}
	return p, nil
}

// DailyPages walks daily klines backwards from now using endTime as the cursor.
func (b *Binance) DailyPages(now time.Time) collector.PageStrategy[normalize.RawRecord] {
	return &binancePages{b: b, interval: "1d", start: now}
}

type binancePages struct {
	b        *Binance
	interval string
	start    time.Time
}

func (p *binancePages) Name() string                   { return binanceName }
func (p *binancePages) Direction() collector.Direction { return collector.Backward }
func (p *binancePages) Start() collector.Cursor        { return collector.Cursor{Time: p.start} }
func (p *binancePages) Key(r normalize.RawRecord) int64 { return r.Millis() }

func (p *binancePages) BuildRequest(c collector.Cursor) (fetch.Request, error) {
	return fetch.Get(p.b.url("/api/v3/klines"), query(
		"symbol", binanceSymbol,
		"interval", p.interval,
		"endTime", strconv.FormatInt(c.Time.UnixMilli(), 10),
		"limit", strconv.Itoa(binancePageLimit),
	)), nil
}

func (p *binancePages) ParseResponse(resp *fetch.Response, c collector.Cursor) (collector.Page[normalize.RawRecord], error) {
	recs, err := parseKlines(resp)
	if err != nil {
		return collector.Page[normalize.RawRecord]{}, err
	}
	if len(recs) == 0 {
		return collector.Page[normalize.RawRecord]{Next: c, Terminal: true}, nil
	}
	oldest := recs[0].Millis()
	for _, r := range recs[1:] {
		oldest = min(oldest, r.Millis())
	}
	return collector.Page[normalize.RawRecord]{
		Records: recs,
		Next:    collector.Cursor{Time: time.UnixMilli(oldest - 1).UTC()},
	}, nil
}

// parseKlines decodes [[openTime, "open", "high", "low", "close", "volume", ...], ...].
func parseKlines(resp *fetch.Response) ([]normalize.RawRecord, error) {
	var rows [][]json.RawMessage
	if err := decode(binanceName, resp, &rows); err != nil {
		return nil, err
	}
	out := make([]normalize.RawRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, schema(binanceName, "kline %d has %d fields", i, len(row))
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, schema(binanceName, "kline %d open time: %v", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, schema(binanceName, "kline %d field %d: %v", i, j+1, err)
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, schema(binanceName, "kline %d field %d: %v", i, j+1, err)
			}
			vals[j] = f
		}
		out = append(out, normalize.RawRecord{
			Time:   ts,
			Unit:   normalize.Milliseconds,
			Open:   model.Float(vals[0]),
			High:   model.Float(vals[1]),
			Low:    model.Float(vals[2]),
			Close:  vals[3],
			Volume: model.Float(vals[4]),
		})
	}
	return out, nil
}
