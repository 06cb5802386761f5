package provider

import (
	"strconv"
	"time"

	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const (
	cryptoCompareName      = "cryptocompare"
	cryptoComparePageLimit = 2000
	day                    = 24 * time.Hour
)

// CryptoCompareCutoff is the earliest day CryptoCompare has meaningful BTC prices for.
var CryptoCompareCutoff = time.Date(2010, 7, 17, 0, 0, 0, 0, time.UTC)

// CryptoCompare reads daily history from min-api.cryptocompare.com. It requires an API key.
type CryptoCompare struct {
	client
	apiKey string
}

// NewCryptoCompare creates a CryptoCompare provider.
func NewCryptoCompare(f collector.Fetcher, baseURL, apiKey string) *CryptoCompare {
	p := fetch.DefaultPolicy()
	p.MaxRetries = 1
	p.BaseBackoff = time.Second
	return &CryptoCompare{
		client: client{name: cryptoCompareName, fetcher: f, baseURL: baseURL, policy: p},
		apiKey: apiKey,
	}
}

// HistoryBefore walks histoday backwards from the day before `before`, keeping
// only records strictly older than it.
func (c *CryptoCompare) HistoryBefore(before time.Time) (collector.PageStrategy[normalize.RawRecord], error) {
	if c.apiKey == "" {
		return nil, missing(cryptoCompareName, "CRYPTO_COMPARE_API")
	}
	return &histodayPages{c: c, before: before}, nil
}

type histodayResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []struct {
			Time     int64   `json:"time"`
			Open     float64 `json:"open"`
			High     float64 `json:"high"`
			Low      float64 `json:"low"`
			Close    float64 `json:"close"`
			VolumeTo float64 `json:"volumeto"`
		} `json:"Data"`
	} `json:"Data"`
}

type histodayPages struct {
	c      *CryptoCompare
	before time.Time
}

func (p *histodayPages) Name() string                   { return cryptoCompareName }
func (p *histodayPages) Direction() collector.Direction { return collector.Backward }
func (p *histodayPages) Key(r normalize.RawRecord) int64 { return r.Millis() }

func (p *histodayPages) Start() collector.Cursor {
	return collector.Cursor{Time: p.before.Add(-day)}
}

func (p *histodayPages) BuildRequest(c collector.Cursor) (fetch.Request, error) {
	q := query(
		"fsym", "BTC",
		"tsym", "USD",
		"limit", strconv.Itoa(cryptoComparePageLimit),
		"toTs", strconv.FormatInt(c.Time.Unix(), 10),
		"api_key", p.c.apiKey,
	)
	return fetch.Get(p.c.url("/data/v2/histoday"), q).WithHeader("Accept", "application/json"), nil
}

func (p *histodayPages) ParseResponse(resp *fetch.Response, c collector.Cursor) (collector.Page[normalize.RawRecord], error) {
	var body histodayResponse
	if err := decode(cryptoCompareName, resp, &body); err != nil {
		return collector.Page[normalize.RawRecord]{}, err
	}
	if body.Response != "Success" {
		return collector.Page[normalize.RawRecord]{}, schema(cryptoCompareName, "response %q: %s", body.Response, body.Message)
	}
	rows := body.Data.Data
	if len(rows) == 0 {
		return collector.Page[normalize.RawRecord]{Next: c, Terminal: true}, nil
	}

	cutoff := p.before.UnixMilli()
	oldest := rows[0].Time
	recs := make([]normalize.RawRecord, 0, len(rows))
	for _, r := range rows {
		oldest = min(oldest, r.Time)
		if r.Time*1000 >= cutoff {
			continue
		}
		recs = append(recs, normalize.RawRecord{
			Time:   r.Time,
			Unit:   normalize.Seconds,
			Open:   model.Float(r.Open),
			High:   model.Float(r.High),
			Low:    model.Float(r.Low),
			Close:  r.Close,
			Volume: model.Float(r.VolumeTo),
		})
	}
	return collector.Page[normalize.RawRecord]{
		Records:  recs,
		Next:     collector.Cursor{Time: time.Unix(oldest, 0).UTC().Add(-day)},
		Terminal: len(recs) == 0,
	}, nil
}
