// Package service assembles the market metrics: each one is a fallback chain of
// provider strategies behind the result cache, with scalar trends kept by the
// snapshot tracker.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"TopSignals/internal/cache"
	"TopSignals/internal/chain"
	"TopSignals/internal/collector"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/provider"
	"TopSignals/internal/snapshot"
)

// Providers is the full set of data sources.
type Providers struct {
	Binance       *provider.Binance
	CryptoCompare *provider.CryptoCompare
	CoinGecko     *provider.CoinGecko
	Yahoo         *provider.Yahoo
	TAAPI         *provider.TAAPI
	SearchAPI     *provider.SearchAPI
	AppStore      *provider.AppStore
}

// Keys are the provider credentials. Empty keys disable the providers that need them.
type Keys struct {
	CryptoCompare string
	CoinGecko     string
	SearchAPI     string
	TAAPI         string
}

// NewProviders builds every provider on top of one fetcher.
func NewProviders(f collector.Fetcher, ep provider.Endpoints, k Keys, logger *slog.Logger) Providers {
	return Providers{
		Binance:       provider.NewBinance(f, ep.Binance),
		CryptoCompare: provider.NewCryptoCompare(f, ep.CryptoCompare, k.CryptoCompare),
		CoinGecko:     provider.NewCoinGecko(f, ep.CoinGecko, k.CoinGecko),
		Yahoo:         provider.NewYahoo(f, ep.Yahoo),
		TAAPI:         provider.NewTAAPI(f, ep.TAAPI, k.TAAPI),
		SearchAPI:     provider.NewSearchAPI(f, ep.SearchAPI, k.SearchAPI, logger),
		AppStore:      provider.NewAppStore(f, ep.AppleRSS),
	}
}

// Options wire a Service.
type Options struct {
	Providers Providers
	Collector *collector.Collector
	Tracker   *snapshot.Tracker
	Config    *config.Config
	Observer  chain.Observer
	Cache     cache.Metrics
	Logger    *slog.Logger
}

// Response is a resolved metric plus the cache metadata HTTP callers turn into freshness headers.
type Response[T any] struct {
	model.MetricResult[T]
	Hit       bool
	ExpiresAt time.Time
}

// Service resolves the market metrics.
type Service struct {
	p        Providers
	col      *collector.Collector
	tracker  *snapshot.Tracker
	cfg      *config.Config
	observer chain.Observer
	logger   *slog.Logger
	now      func() time.Time

	history    *cache.Cache[model.MetricResult[model.Series]]
	indicators *cache.Cache[model.MetricResult[model.Indicators]]
	piCycle    *cache.Cache[model.MetricResult[model.PiCycle]]
	ranks      *cache.Cache[model.MetricResult[model.RankReport]]
}

// New creates a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Service{
		p:        opts.Providers,
		col:      opts.Collector,
		tracker:  opts.Tracker,
		cfg:      opts.Config,
		observer: opts.Observer,
		logger:   logger.With("component", "service"),
		now:      time.Now,
	}
	s.history = newCache[model.Series](s, config.MetricBTCHistory, opts.Cache)
	s.indicators = newCache[model.Indicators](s, config.MetricBTCIndicators, opts.Cache)
	s.piCycle = newCache[model.PiCycle](s, config.MetricPiCycle, opts.Cache)
	s.ranks = newCache[model.RankReport](s, config.MetricCoinbaseRank, opts.Cache)
	return s
}

func newCache[T any](s *Service, key string, m cache.Metrics) *cache.Cache[model.MetricResult[T]] {
	return cache.New(cache.Options[model.MetricResult[T]]{
		StaleRetention: s.cfg.Cache.StaleRetention.D(),
		DegradedTTL:    s.cfg.Metric(key).DegradedTTL.D(),
		IsDegraded:     func(r model.MetricResult[T]) bool { return r.Degraded || r.Stale },
		Metrics:        m,
	})
}

func newChain[T any](s *Service, key string, log *slog.Logger, strategies ...chain.Strategy[T]) *chain.Chain[T] {
	return &chain.Chain[T]{
		Key:            key,
		Strategies:     strategies,
		AttemptTimeout: s.cfg.Providers.AttemptTimeout.D(),
		Observer:       s.observer,
		Logger:         log,
		Now:            s.now,
	}
}

// resolve serves key from c, computing it on a miss. A stale cache entry marks the result stale and degraded.
func resolve[T any](ctx context.Context, s *Service, c *cache.Cache[model.MetricResult[T]], key string,
	compute func(ctx context.Context, log *slog.Logger) (model.MetricResult[T], error)) (Response[T], error) {
	res, err := c.GetOrCompute(ctx, key, s.cfg.Metric(key).TTL.D(), func(ctx context.Context) (model.MetricResult[T], error) {
		log := s.logger.With("metric", key, "run_id", uuid.NewString())
		start := s.now()
		r, err := compute(ctx, log)
		if err != nil {
			log.Error("metric resolution failed", "error", err, "duration", s.now().Sub(start))
			return r, err
		}
		log.Info("metric resolved", "source", r.Source, "stale", r.Stale, "degraded", r.Degraded,
			"attempts", len(r.Attempts), "duration", s.now().Sub(start))
		return r, nil
	})
	if err != nil {
		return Response[T]{}, err
	}
	out := Response[T]{MetricResult: res.Value, Hit: res.Hit, ExpiresAt: res.ExpiresAt}
	if res.Stale {
		out.Stale = true
		out.Degraded = true
	}
	return out, nil
}

// TTL returns how long a response for key stays fresh, honoring the shorter degraded TTL.
func (s *Service) TTL(key string, degraded bool) time.Duration {
	mc := s.cfg.Metric(key)
	if degraded && mc.DegradedTTL > 0 {
		return mc.DegradedTTL.D()
	}
	return mc.TTL.D()
}

// Refresh expires and recomputes every metric concurrently. Failed metrics keep serving
// their previous value; the first failure is returned.
func (s *Service) Refresh(ctx context.Context) error {
	s.history.Invalidate(config.MetricBTCHistory)
	s.indicators.Invalidate(config.MetricBTCIndicators)
	s.piCycle.Invalidate(config.MetricPiCycle)
	s.ranks.Invalidate(config.MetricCoinbaseRank)

	var g errgroup.Group
	g.Go(func() error { _, err := s.BTCHistory(ctx); return err })
	g.Go(func() error { _, err := s.BTCIndicators(ctx); return err })
	g.Go(func() error { _, err := s.PiCycle(ctx); return err })
	g.Go(func() error { _, err := s.CoinbaseRank(ctx); return err })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	return nil
}

// summarize joins distinct source names in a stable order.
func summarize(sources map[string]string) string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range sources {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
