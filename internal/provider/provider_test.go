package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopSignals/internal/chain"
	"TopSignals/internal/collector"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
)

func server(t *testing.T, h http.HandlerFunc) (*httptest.Server, *fetch.Fetcher) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, fetch.New(srv.Client(), nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func isTerminal(err error) bool {
	var te *chain.TerminalError
	return errors.As(err, &te)
}

func TestBinanceDailyPagesWalkBackToEmpty(t *testing.T) {
	const dayMs = int64(86_400_000)
	newest := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	var endTimes []int64

	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		end, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		endTimes = append(endTimes, end)
		var rows [][]any
		// Two pages of 3 days each, then nothing.
		if len(endTimes) <= 2 {
			top := newest - int64(len(endTimes)-1)*3*dayMs
			for i := int64(2); i >= 0; i-- {
				ts := top - i*dayMs
				rows = append(rows, []any{ts, "1.0", "2.0", "0.5", fmt.Sprintf("%d", ts/dayMs), "10.0", ts + dayMs - 1})
			}
		}
		writeJSON(w, rows)
	})

	b := NewBinance(f, srv.URL)
	col := collector.New(f, nil)
	res, err := collector.Collect(context.Background(), col, b.DailyPages(time.UnixMilli(newest).UTC()), collector.Limits{Boundary: BinanceListing})
	require.NoError(t, err)
	assert.Equal(t, collector.ReasonEmpty, res.Reason)
	assert.Equal(t, 3, res.Requests)
	require.Len(t, res.Records, 6)
	for i := 1; i < len(res.Records); i++ {
		assert.Less(t, res.Records[i-1].Millis(), res.Records[i].Millis())
	}
	// The second request ends one millisecond before the oldest candle of the first page.
	assert.Equal(t, newest-2*dayMs-1, endTimes[1])
}

func TestBinancePriceAndBadSchema(t *testing.T) {
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/price":
			writeJSON(w, map[string]string{"symbol": "BTCUSDT", "price": "65123.45"})
		default:
			_, _ = w.Write([]byte(`{"code":-1121}`))
		}
	})
	b := NewBinance(f, srv.URL)

	p, err := b.Price(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 65123.45, p, 1e-9)

	_, err = b.Klines(context.Background(), "1M", 20)
	require.Error(t, err)
	assert.True(t, isTerminal(err))
}

func TestCryptoCompareRequiresKey(t *testing.T) {
	c := NewCryptoCompare(fetch.New(nil, nil), "http://unused", "")
	_, err := c.HistoryBefore(time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, model.OutcomeTerminal, chain.Classify(err))
}

func TestCryptoCompareHistoryBefore(t *testing.T) {
	before := time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC)
	var calls int32
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		toTs, _ := strconv.ParseInt(r.URL.Query().Get("toTs"), 10, 64)
		type row struct {
			Time  int64   `json:"time"`
			Close float64 `json:"close"`
		}
		var rows []row
		if n == 1 {
			// Includes one record on the cutoff day that must be filtered out.
			for ts := toTs - 2*86400; ts <= toTs+86400; ts += 86400 {
				rows = append(rows, row{Time: ts, Close: 4000})
			}
		}
		writeJSON(w, map[string]any{"Response": "Success", "Data": map[string]any{"Data": rows}})
	})

	cc := NewCryptoCompare(f, srv.URL, "secret")
	s, err := cc.HistoryBefore(before)
	require.NoError(t, err)
	res, err := collector.Collect(context.Background(), collector.New(f, nil), s, collector.Limits{Boundary: CryptoCompareCutoff, MaxPages: 5})
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	for _, r := range res.Records {
		assert.Less(t, r.Millis(), before.UnixMilli())
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCryptoCompareErrorResponseIsTerminal(t *testing.T) {
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"Response": "Error", "Message": "rate limit"})
	})
	s, err := NewCryptoCompare(f, srv.URL, "k").HistoryBefore(time.Now())
	require.NoError(t, err)
	_, err = collector.Collect(context.Background(), collector.New(f, nil), s, collector.Limits{})
	require.Error(t, err)
	assert.True(t, isTerminal(err))
}

func TestCoinGecko(t *testing.T) {
	var key string
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-cg-demo-api-key")
		switch {
		case strings.HasSuffix(r.URL.Path, "/ohlc"):
			_, _ = w.Write([]byte(`[[1700000000000, 1, 2, 0.5, 1.5], [1700086400000, 1.5, 3, 1, 2.5]]`))
		case strings.HasSuffix(r.URL.Path, "/market_chart"):
			_, _ = w.Write([]byte(`{"prices": [[1700000000000, 36500.12], [1700086400000, 37000]]}`))
		}
	})
	g := NewCoinGecko(f, srv.URL, "demo")

	ohlc, err := g.OHLC(context.Background(), 365)
	require.NoError(t, err)
	require.Len(t, ohlc, 2)
	assert.Equal(t, 2.5, ohlc[1].Close)
	assert.Equal(t, 3.0, *ohlc[1].High)
	assert.Equal(t, "demo", key)

	pts, err := g.MarketChart(context.Background(), 400)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, int64(1700000000000), pts[0].Millis())
	assert.InDelta(t, 36500.12, pts[0].Close, 1e-9)
}

func TestYahooSkipsNullBars(t *testing.T) {
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/BTC-USD", r.URL.Path)
		assert.Equal(t, "1wk", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"chart":{"result":[{"timestamp":[1,2,3],"indicators":{"quote":[{
			"open":[1,null,3],"high":[1,null,3],"low":[1,null,3],"close":[10,null,30],"volume":[5,null,null]}]}}]}}`))
	})
	y := NewYahoo(f, srv.URL)
	bars, err := y.Closes(context.Background(), "BTC", "1wk", 250)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(3000), bars[1].Millis())
	assert.Equal(t, 30.0, bars[1].Close)
	assert.Nil(t, bars[1].Volume)
}

func TestYahooAPIError(t *testing.T) {
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})
	_, err := NewYahoo(f, srv.URL).Chart(context.Background(), "BTC", "1d", "1y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No data found")
}

func TestYahooRange(t *testing.T) {
	assert.Equal(t, "max", yahooRange("1mo", 20))
	assert.Equal(t, "5y", yahooRange("1wk", 250))
	assert.Equal(t, "2y", yahooRange("1d", 400))
}

func TestTAAPI(t *testing.T) {
	_, err := NewTAAPI(fetch.New(nil, nil), "http://unused", "").Price(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)

	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC/USDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"value": 64000.5}`))
	})
	p, err := NewTAAPI(f, srv.URL, "s").Price(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64000.5, p)
}

func chartJSON(from, n int, trackedAt int) map[string]any {
	var apps []map[string]any
	for i := 0; i < n; i++ {
		pos := from + i
		app := map[string]any{"position": pos, "id": 1000 + pos, "title": fmt.Sprintf("App %d", pos)}
		if pos == trackedAt {
			app["id"] = 886427730
			app["title"] = "Coinbase: Buy Bitcoin & Ether"
		}
		apps = append(apps, app)
	}
	return map[string]any{"top_charts": apps}
}

func TestSearchAPIRanks(t *testing.T) {
	var searched bool
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("engine") == "apple_app_store":
			searched = true
			writeJSON(w, map[string]any{"organic_results": []map[string]any{
				{"id": "886427730", "bundle_id": "com.coinbase.app", "rank_overall": 142},
			}})
		case q.Get("category") == "finance_apps":
			page, _ := strconv.Atoi(q.Get("page"))
			writeJSON(w, chartJSON((page-1)*100+1, 100, 130))
		default:
			writeJSON(w, chartJSON(1, 100, -1))
		}
	})

	ranks, err := NewSearchAPI(f, srv.URL, "k", nil).Ranks(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ranks.Finance.Position)
	assert.Equal(t, 130.0, *ranks.Finance.Position)
	require.NotNil(t, ranks.Overall.Position)
	assert.Equal(t, 142.0, *ranks.Overall.Position)
	assert.True(t, searched)
	assert.True(t, ValidRanks(ranks))
}

func TestSearchAPIRateLimitIsNotRetried(t *testing.T) {
	var calls int32
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := NewSearchAPI(f, srv.URL, "k", nil).Ranks(context.Background())
	require.Error(t, err)
	assert.True(t, fetch.IsRateLimited(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, model.OutcomeRetryable, chain.Classify(err))
}

func TestAppStoreRanksOutsideTop(t *testing.T) {
	feed := func(n, trackedAt int) map[string]any {
		var entries []map[string]any
		for i := 1; i <= n; i++ {
			id, bundle := strconv.Itoa(i), fmt.Sprintf("com.app%d", i)
			if i == trackedAt {
				id, bundle = CoinbaseAppleID, CoinbaseBundleID
			}
			entries = append(entries, map[string]any{
				"im:name": map[string]string{"label": "App"},
				"id":      map[string]any{"attributes": map[string]string{"im:id": id, "im:bundleId": bundle}},
			})
		}
		return map[string]any{"feed": map[string]any{"entry": entries}}
	}
	srv, f := server(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "genre=6015") {
			writeJSON(w, feed(200, 4))
			return
		}
		writeJSON(w, feed(100, -1))
	})

	ranks, err := NewAppStore(f, srv.URL).Ranks(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ranks.Finance.Position)
	assert.Equal(t, 4.0, *ranks.Finance.Position)
	assert.Nil(t, ranks.Overall.Position)
	assert.Equal(t, 100, ranks.Overall.OutsideTop)
}
