package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopSignals/internal/chain"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/service"
	"TopSignals/internal/telemetry"
)

type fakeMetrics struct {
	pi      service.Response[model.PiCycle]
	piErr   error
	rank    service.Response[model.RankReport]
	history service.Response[model.Series]
}

func (f *fakeMetrics) BTCHistory(context.Context) (service.Response[model.Series], error) {
	return f.history, nil
}

func (f *fakeMetrics) BTCIndicators(context.Context) (service.Response[model.Indicators], error) {
	return service.Response[model.Indicators]{}, fmt.Errorf("btc_indicators: %w", chain.ErrUnavailable)
}

func (f *fakeMetrics) PiCycle(context.Context) (service.Response[model.PiCycle], error) {
	return f.pi, f.piErr
}

func (f *fakeMetrics) CoinbaseRank(context.Context) (service.Response[model.RankReport], error) {
	return f.rank, nil
}

func (f *fakeMetrics) TTL(key string, degraded bool) time.Duration {
	if degraded {
		return time.Minute
	}
	return time.Hour
}

func init() { gin.SetMode(gin.TestMode) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricEndpoint(t *testing.T) {
	f := &fakeMetrics{pi: service.Response[model.PiCycle]{
		MetricResult: model.MetricResult[model.PiCycle]{
			Key:    config.MetricPiCycle,
			Value:  model.PiCycle{SMA111: 60000, SMA350x2: 70000, DistancePct: -14.28},
			Source: "coingecko",
		},
		Hit: true,
	}}
	s := New(":0", f, nil, nil)

	rec := get(t, s.Handler(), "/api/pi-cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "coingecko", rec.Header().Get("X-Data-Source"))
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	var body struct {
		Key   string        `json:"key"`
		Value model.PiCycle `json:"value"`
		Stale bool          `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, config.MetricPiCycle, body.Key)
	assert.Equal(t, 60000.0, body.Value.SMA111)
	assert.False(t, body.Stale)
}

func TestDegradedUsesShortTTL(t *testing.T) {
	f := &fakeMetrics{rank: service.Response[model.RankReport]{
		MetricResult: model.MetricResult[model.RankReport]{Key: config.MetricCoinbaseRank, Source: "appstore", Stale: true, Degraded: true},
	}}
	rec := get(t, New(":0", f, nil, nil).Handler(), "/api/coinbase-rank")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Body.String(), `"stale":true`)
}

func TestUnavailable(t *testing.T) {
	rec := get(t, New(":0", &fakeMetrics{}, nil, nil).Handler(), "/api/btc-indicators")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"unavailable"}`, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestClientGoneIsNotAnOutage(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := &fakeMetrics{piErr: fmt.Errorf("pi_cycle: %w", context.Canceled)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pi-cycle", nil).WithContext(ctx)
	New(":0", f, nil, logger).Handler().ServeHTTP(rec, req)

	assert.Equal(t, statusClientClosed, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NotContains(t, logs.String(), "metric unavailable")
	assert.Contains(t, logs.String(), "client went away")
}

func TestHealthAndMetrics(t *testing.T) {
	m := telemetry.New()
	f := &fakeMetrics{history: service.Response[model.Series]{
		MetricResult: model.MetricResult[model.Series]{Key: config.MetricBTCHistory, Source: "binance+cryptocompare"},
	}}
	h := New(":0", f, m, nil).Handler()

	rec := get(t, h, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	get(t, h, "/api/btc-history")
	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `topsignals_http_requests_total{route="/api/btc-history",status="200"} 1`)
}
