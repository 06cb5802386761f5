package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopSignals/internal/chain"
	"TopSignals/internal/collector"
	"TopSignals/internal/config"
	"TopSignals/internal/fetch"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
	"TopSignals/internal/provider"
	"TopSignals/internal/snapshot"
)

const dayMs = int64(86_400_000)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// klines renders n Binance kline rows starting at startMs, one step apart.
func klines(startMs, step int64, n int, closeAt func(i int) float64) [][]any {
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		ts := startMs + int64(i)*step
		c := strconv.FormatFloat(closeAt(i), 'f', -1, 64)
		rows = append(rows, []any{ts, c, c, c, c, "1.0", ts + step - 1})
	}
	return rows
}

func flat(v float64) func(int) float64 { return func(int) float64 { return v } }

// market is a fake of every provider endpoint. Handlers left nil answer 404.
type market struct {
	mu        sync.Mutex
	klines    func(q map[string]string) [][]any
	ticker    func() (float64, bool)
	histoday  func(toTs int64, call int32) []map[string]any
	ohlc      func() [][]float64
	chart     func() [][]float64
	appFinPos func() int
	failAll   atomic.Bool

	histodayCalls atomic.Int32
}

func (m *market) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll.Load() {
		http.NotFound(w, r)
		return
	}
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	switch {
	case r.URL.Path == "/api/v3/klines" && m.klines != nil:
		writeJSON(w, m.klines(q))
	case r.URL.Path == "/api/v3/ticker/price" && m.ticker != nil:
		if p, ok := m.ticker(); ok {
			writeJSON(w, map[string]string{"symbol": "BTCUSDT", "price": strconv.FormatFloat(p, 'f', -1, 64)})
			return
		}
		http.NotFound(w, r)
	case r.URL.Path == "/data/v2/histoday" && m.histoday != nil:
		toTs, _ := strconv.ParseInt(q["toTs"], 10, 64)
		rows := m.histoday(toTs, m.histodayCalls.Add(1))
		writeJSON(w, map[string]any{"Response": "Success", "Data": map[string]any{"Data": rows}})
	case r.URL.Path == "/api/v3/coins/bitcoin/ohlc" && m.ohlc != nil:
		writeJSON(w, m.ohlc())
	case r.URL.Path == "/api/v3/coins/bitcoin/market_chart" && m.chart != nil:
		writeJSON(w, map[string]any{"prices": m.chart()})
	case strings.HasPrefix(r.URL.Path, "/us/rss/topfreeapplications") && m.appFinPos != nil:
		tracked, n := -1, 100
		if strings.Contains(r.URL.Path, "genre=6015") {
			tracked, n = m.appFinPos(), 200
		}
		writeJSON(w, rssFeed(n, tracked))
	default:
		http.NotFound(w, r)
	}
}

func rssFeed(n, trackedAt int) map[string]any {
	entries := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		id, bundle := strconv.Itoa(i), fmt.Sprintf("com.app%d", i)
		if i == trackedAt {
			id, bundle = provider.CoinbaseAppleID, provider.CoinbaseBundleID
		}
		entries = append(entries, map[string]any{
			"im:name": map[string]string{"label": "App"},
			"id":      map[string]any{"attributes": map[string]string{"im:id": id, "im:bundleId": bundle}},
		})
	}
	return map[string]any{"feed": map[string]any{"entry": entries}}
}

func newTestService(t *testing.T, m *market, keys Keys) (*Service, *snapshot.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	f := fetch.New(srv.Client(), nil)
	ep := provider.Endpoints{
		Binance: srv.URL, CryptoCompare: srv.URL, CoinGecko: srv.URL, Yahoo: srv.URL,
		TAAPI: srv.URL, SearchAPI: srv.URL, AppleRSS: srv.URL,
	}
	store := snapshot.NewMemoryStore()
	s := New(Options{
		Providers: NewProviders(f, ep, keys, nil),
		Collector: collector.New(f, nil),
		Tracker:   snapshot.NewTracker(store, cfg.Polarities(), nil),
		Config:    cfg,
	})
	return s, store
}

func TestCoinbaseRankStickyDelta(t *testing.T) {
	positions := []int{5, 5, 3}
	var call atomic.Int32
	m := &market{appFinPos: func() int { return positions[call.Load()] }}
	s, store := newTestService(t, m, Keys{})
	ctx := context.Background()

	var reports []model.RankReport
	for i := range positions {
		call.Store(int32(i))
		s.ranks.Invalidate(config.MetricCoinbaseRank)
		res, err := s.CoinbaseRank(ctx)
		require.NoError(t, err)
		assert.Equal(t, "appstore", res.Source)
		assert.False(t, res.Stale)
		reports = append(reports, res.Value)
	}

	assert.Nil(t, reports[0].FinanceDelta.Previous)
	assert.Equal(t, model.DirectionNone, reports[1].FinanceDelta.Direction)
	require.NotNil(t, reports[2].FinanceDelta.Previous)
	assert.Equal(t, 5.0, *reports[2].FinanceDelta.Previous)
	assert.Equal(t, model.DirectionUp, reports[2].FinanceDelta.Direction)
	assert.Equal(t, 100, reports[2].Overall.OutsideTop)

	// Unchanged polls add no rows.
	assert.Len(t, store.History(config.ScalarFinanceRank), 2)
}

func TestCoinbaseRankServesLastGoodWhenProvidersFail(t *testing.T) {
	m := &market{appFinPos: func() int { return 7 }}
	s, _ := newTestService(t, m, Keys{})
	ctx := context.Background()

	_, err := s.CoinbaseRank(ctx)
	require.NoError(t, err)

	m.failAll.Store(true)
	s.ranks.Invalidate(config.MetricCoinbaseRank)
	res, err := s.CoinbaseRank(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.Degraded)
	require.NotNil(t, res.Value.Finance.Position)
	assert.Equal(t, 7.0, *res.Value.Finance.Position)
	assert.Equal(t, time.Minute, s.TTL(config.MetricCoinbaseRank, res.Degraded))
}

func TestPiCycleUnavailable(t *testing.T) {
	s, _ := newTestService(t, &market{}, Keys{})
	_, err := s.PiCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrUnavailable)
}

func TestPiCycleFallsBackToBinance(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	m := &market{klines: func(q map[string]string) [][]any {
		if q["interval"] != "1d" {
			return nil
		}
		return klines(start, dayMs, 400, flat(100))
	}}
	s, _ := newTestService(t, m, Keys{})

	res, err := s.PiCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binance", res.Source)
	assert.InDelta(t, 100.0, res.Value.SMA111, 1e-9)
	assert.InDelta(t, 200.0, res.Value.SMA350x2, 1e-9)
	assert.False(t, res.Value.Crossed)
	assert.InDelta(t, -50.0, res.Value.DistancePct, 1e-9)
	assert.Equal(t, time.UnixMilli(start+399*dayMs).UTC(), res.Value.Time)

	// Second call is a cache hit.
	again, err := s.PiCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Hit)
}

func TestPiCycleOf(t *testing.T) {
	closes := make([]float64, 351)
	times := make([]int64, len(closes))
	for i := range closes {
		closes[i] = 1
		times[i] = int64(i+1) * dayMs
	}
	closes[len(closes)-1] = 1000
	series := normalize.Merge([]normalize.ProviderSeries{{Tag: "t", Records: normalize.FromCloses(times, closes, normalize.Milliseconds)}}, time.Time{})

	pc, err := PiCycleOf(series)
	require.NoError(t, err)
	assert.True(t, pc.Crossed)
	assert.Greater(t, pc.DistancePct, 0.0)

	_, err = PiCycleOf(model.Series{Candles: series.Candles[:350]})
	var ie *chain.InsufficientDataError
	assert.ErrorAs(t, err, &ie)
}

func TestBTCIndicators(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	price := 50.0
	m := &market{
		klines: func(q map[string]string) [][]any {
			switch q["interval"] {
			case "1M":
				return klines(start, 30*dayMs, 20, func(i int) float64 { return float64(100 + i) })
			case "1w":
				return klines(start, 7*dayMs, 250, flat(100))
			}
			return nil
		},
		ticker: func() (float64, bool) { return price, true },
	}
	s, _ := newTestService(t, m, Keys{})

	res, err := s.BTCIndicators(context.Background())
	require.NoError(t, err)
	ind := res.Value
	require.NotNil(t, ind.MonthlyRSI)
	assert.Equal(t, 100.0, *ind.MonthlyRSI)
	assert.True(t, ind.RSIDanger)
	require.NotNil(t, ind.WeeklyEMA200)
	assert.InDelta(t, 100.0, *ind.WeeklyEMA200, 1e-9)
	require.NotNil(t, ind.BreakEMA200)
	assert.True(t, *ind.BreakEMA200)
	assert.Equal(t, "binance", ind.PriceSource)
	assert.Nil(t, ind.Errors)
	assert.False(t, res.Degraded)
	assert.Equal(t, "binance", res.Source)
	assert.Nil(t, ind.Price.Previous)

	m.mu.Lock()
	price = 60
	m.mu.Unlock()
	s.indicators.Invalidate(config.MetricBTCIndicators)
	res, err = s.BTCIndicators(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Value.Price.Previous)
	assert.Equal(t, 50.0, *res.Value.Price.Previous)
	assert.Equal(t, model.DirectionUp, res.Value.Price.Direction)
}

func TestBTCIndicatorsPriceFromWeeklyClose(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	m := &market{
		klines: func(q map[string]string) [][]any {
			if q["interval"] == "1w" {
				return klines(start, 7*dayMs, 60, func(i int) float64 { return float64(1000 + i) })
			}
			return nil
		},
		ticker: func() (float64, bool) { return 0, false },
	}
	s, _ := newTestService(t, m, Keys{})

	res, err := s.BTCIndicators(context.Background())
	require.NoError(t, err)
	ind := res.Value
	require.NotNil(t, ind.CurrentPrice)
	assert.Equal(t, 1059.0, *ind.CurrentPrice)
	assert.Equal(t, "weekly_close", ind.PriceSource)
	assert.NotNil(t, ind.WeeklyEMA50)
	assert.Nil(t, ind.WeeklyEMA200)
	assert.Contains(t, ind.Errors, "ema200")
	assert.Contains(t, ind.Errors, "rsi")
	assert.True(t, res.Degraded)
}

func TestBTCHistoryMergesExchanges(t *testing.T) {
	var binanceCalls atomic.Int32
	m := &market{
		klines: func(q map[string]string) [][]any {
			end, err := strconv.ParseInt(q["endTime"], 10, 64)
			if err != nil || binanceCalls.Add(1) > 1 {
				return [][]any{}
			}
			day := end - end%dayMs
			return klines(day-2*dayMs, dayMs, 3, flat(30000))
		},
		histoday: func(toTs int64, call int32) []map[string]any {
			if call > 1 {
				return nil
			}
			return []map[string]any{
				{"time": toTs - 86400, "close": 20000.0},
				{"time": toTs, "close": 20001.0},
			}
		},
	}
	s, _ := newTestService(t, m, Keys{CryptoCompare: "cc-key"})

	res, err := s.BTCHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binance+cryptocompare", res.Source)
	series := res.Value
	assert.Equal(t, []string{"binance", "cryptocompare"}, series.SourceTags)
	assert.True(t, series.IsLimited)
	require.Equal(t, 5, series.Len())
	for i := 1; i < series.Len(); i++ {
		assert.Less(t, series.Candles[i-1].Time, series.Candles[i].Time)
	}
	assert.Equal(t, 20000.0, series.Candles[0].Close)
	last, _ := series.Last()
	assert.Equal(t, 30000.0, last.Close)
}

func TestBTCHistoryFallsBackToCoinGecko(t *testing.T) {
	start := float64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	m := &market{ohlc: func() [][]float64 {
		return [][]float64{{start, 1, 2, 0.5, 1.5}, {start + float64(dayMs), 1.5, 2, 1, 1.8}}
	}}
	s, _ := newTestService(t, m, Keys{})
	s.now = func() time.Time { return time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC) }

	res, err := s.BTCHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "coingecko", res.Source)
	assert.Equal(t, 2, res.Value.Len())
	assert.True(t, res.Value.IsLimited)
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Succeeded)
}

// recentOHLC is two CoinGecko OHLC rows ending yesterday.
func recentOHLC() [][]float64 {
	now := time.Now().UTC().UnixMilli()
	y := float64(now - now%dayMs - dayMs)
	return [][]float64{{y - float64(dayMs), 1, 2, 0.5, 1.5}, {y, 1.5, 2, 1, 1.8}}
}

func TestBTCHistorySkipsCryptoCompareWithoutBinance(t *testing.T) {
	m := &market{
		histoday: func(toTs int64, call int32) []map[string]any {
			return []map[string]any{
				{"time": toTs - 86400, "close": 20000.0},
				{"time": toTs, "close": 20001.0},
			}
		},
		ohlc: recentOHLC,
	}
	s, _ := newTestService(t, m, Keys{CryptoCompare: "cc-key"})

	res, err := s.BTCHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "coingecko", res.Source)
	assert.Equal(t, []string{"coingecko"}, res.Value.SourceTags)
	assert.Zero(t, m.histodayCalls.Load(), "older history is only fetched behind Binance data")
	require.Len(t, res.Attempts, 2)
	assert.False(t, res.Attempts[0].Succeeded)
}

func TestBTCHistoryRejectsOutdatedSeries(t *testing.T) {
	old := time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC).UnixMilli()
	var binanceCalls atomic.Int32
	m := &market{
		klines: func(map[string]string) [][]any {
			if binanceCalls.Add(1) > 1 {
				return [][]any{}
			}
			return klines(old, dayMs, 3, flat(4000))
		},
		ohlc: recentOHLC,
	}
	s, _ := newTestService(t, m, Keys{})

	res, err := s.BTCHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "coingecko", res.Source)
	assert.False(t, res.Degraded)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "insufficient_data", res.Attempts[0].ErrorKind)
}

func TestAwaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := await(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	v, err := await(context.Background(), func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "binance,taapi", summarize(map[string]string{"monthly": "binance", "weekly": "binance", "price": "taapi"}))
	assert.Equal(t, "", summarize(nil))
}
