package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"TopSignals/internal/calculator"
	"TopSignals/internal/chain"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const (
	rsiPeriod     = 14
	rsiDanger     = 80.0
	monthlyBars   = 20
	weeklyBars    = 250
	emaFast       = 50
	emaSlow       = 200
	tickerSymbol  = "BTC"
	monthlyMetric = "btc_monthly_closes"
	weeklyMetric  = "btc_weekly_closes"
)

// BTCIndicators returns monthly RSI, weekly EMAs and the current price with its trend.
func (s *Service) BTCIndicators(ctx context.Context) (Response[model.Indicators], error) {
	return resolve(ctx, s, s.indicators, config.MetricBTCIndicators, s.computeIndicators)
}

// closesChain resolves the last n closes of one bar interval, Binance first, Yahoo second.
func (s *Service) closesChain(key, binanceInterval, yahooInterval string, n, minBars int, log *slog.Logger) *chain.Chain[[]float64] {
	c := newChain(s, key, log,
		chain.Strategy[[]float64]{Name: "binance", Acquire: func(ctx context.Context) ([]float64, error) {
			recs, err := s.p.Binance.Klines(ctx, binanceInterval, n)
			if err != nil {
				return nil, err
			}
			return closes("binance", recs), nil
		}},
		chain.Strategy[[]float64]{Name: "yahoo", Acquire: func(ctx context.Context) ([]float64, error) {
			recs, err := s.p.Yahoo.Closes(ctx, tickerSymbol, yahooInterval, n)
			if err != nil {
				return nil, err
			}
			return closes("yahoo", recs), nil
		}},
	)
	c.Validate = func(v []float64) error {
		if len(v) < minBars {
			return chain.Insufficient("%d closes, need %d", len(v), minBars)
		}
		return nil
	}
	c.Count = func(v []float64) int { return len(v) }
	return c
}

// closes orders and cleans one provider's bars and returns their closes.
func closes(tag string, recs []normalize.RawRecord) []float64 {
	return normalize.Merge([]normalize.ProviderSeries{{Tag: tag, Records: recs}}, time.Time{}).Closes()
}

func (s *Service) computeIndicators(ctx context.Context, log *slog.Logger) (model.MetricResult[model.Indicators], error) {
	monthly := s.closesChain(monthlyMetric, "1M", "1mo", monthlyBars, rsiPeriod+1, log)
	weekly := s.closesChain(weeklyMetric, "1w", "1wk", weeklyBars, emaFast, log)
	weeklyOnce := sync.OnceValues(func() (model.MetricResult[[]float64], error) { return weekly.Resolve(ctx) })

	price := newChain(s, config.ScalarBTCPrice, log,
		chain.Strategy[float64]{Name: "taapi", Acquire: s.p.TAAPI.Price},
		chain.Strategy[float64]{Name: "binance", Acquire: s.p.Binance.Price},
		// The weekly resolution is shared with the EMA inputs and runs under ctx; the
		// attempt only bounds how long this strategy waits for it.
		chain.Strategy[float64]{Name: "weekly_close", Acquire: func(actx context.Context) (float64, error) {
			w, err := await(actx, weeklyOnce)
			if err != nil {
				return 0, err
			}
			return w.Value[len(w.Value)-1], nil
		}},
	)
	price.Validate = func(v float64) error {
		if v <= 0 {
			return chain.Insufficient("non-positive price %v", v)
		}
		return nil
	}
	price.Static = s.cfg.Metric(config.ScalarBTCPrice).StaticDefault

	var (
		g                errgroup.Group
		mRes, wRes       model.MetricResult[[]float64]
		pRes             model.MetricResult[float64]
		mErr, wErr, pErr error
	)
	g.Go(func() error { mRes, mErr = monthly.Resolve(ctx); return nil })
	g.Go(func() error { wRes, wErr = weeklyOnce(); return nil })
	g.Go(func() error { pRes, pErr = price.Resolve(ctx); return nil })
	_ = g.Wait()

	if mErr != nil && wErr != nil && pErr != nil {
		if prev, ok := s.indicators.LastGood(config.MetricBTCIndicators); ok {
			log.Warn("every indicator input failed, serving last known-good value")
			prev.Stale, prev.Degraded = true, true
			return prev, nil
		}
		return model.MetricResult[model.Indicators]{Key: config.MetricBTCIndicators},
			fmt.Errorf("%s: %w", config.MetricBTCIndicators, chain.ErrUnavailable)
	}

	ind := model.Indicators{
		Errors:    make(map[string]string),
		Sources:   make(map[string]string),
		UpdatedAt: s.now().UTC(),
	}
	var attempts []model.ProviderAttempt
	attempts = append(attempts, mRes.Attempts...)
	attempts = append(attempts, wRes.Attempts...)
	attempts = append(attempts, pRes.Attempts...)

	if mErr != nil {
		ind.Errors["rsi"] = mErr.Error()
	} else {
		ind.Sources["monthly"] = mRes.Source
		if v, err := calculator.CalculateRSI(mRes.Value, rsiPeriod); err != nil {
			ind.Errors["rsi"] = err.Error()
		} else {
			ind.MonthlyRSI = &v
			ind.RSIDanger = v >= rsiDanger
		}
	}

	if wErr != nil {
		ind.Errors["ema"] = wErr.Error()
	} else {
		ind.Sources["weekly"] = wRes.Source
		ind.WeeklyEMA50 = ema(wRes.Value, emaFast, "ema50", ind.Errors)
		ind.WeeklyEMA200 = ema(wRes.Value, emaSlow, "ema200", ind.Errors)
	}

	degraded := false
	if pErr != nil {
		ind.Errors["price"] = pErr.Error()
	} else {
		ind.CurrentPrice = model.Float(pRes.Value)
		ind.PriceSource = pRes.Source
		ind.Sources["price"] = pRes.Source
		degraded = pRes.Degraded
	}
	ind.BreakEMA50 = below(ind.CurrentPrice, ind.WeeklyEMA50)
	ind.BreakEMA200 = below(ind.CurrentPrice, ind.WeeklyEMA200)

	ind.Price = model.NewDelta(ind.CurrentPrice, nil, model.DirectionNone)
	if ind.CurrentPrice != nil && !pRes.Stale && pRes.Source != model.SourceStatic {
		ind.Price = s.track(ctx, log, config.ScalarBTCPrice, ind.CurrentPrice, pRes.Source)
	}
	if len(ind.Errors) == 0 {
		ind.Errors = nil
	}

	return model.MetricResult[model.Indicators]{
		Key:        config.MetricBTCIndicators,
		Value:      ind,
		Source:     summarize(ind.Sources),
		Degraded:   degraded || ind.Errors != nil,
		ResolvedAt: s.now(),
		Attempts:   attempts,
	}, nil
}

// await runs fn in the background and returns its result, or ctx.Err() if ctx ends first.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func ema(vals []float64, period int, name string, errs map[string]string) *float64 {
	v, err := calculator.CalculateEMA(vals, period)
	if err != nil {
		errs[name] = err.Error()
		return nil
	}
	return &v
}

func below(price, level *float64) *bool {
	if price == nil || level == nil {
		return nil
	}
	b := *price < *level
	return &b
}
