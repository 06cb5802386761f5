package service

import (
	"context"
	"log/slog"
	"time"

	"TopSignals/internal/calculator"
	"TopSignals/internal/chain"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
)

const (
	piFast          = 111
	piSlow          = 350
	piDailyBars     = 400
	coinGeckoPiDays = 365
)

// PiCycle returns the Pi-Cycle top indicator on daily closes.
func (s *Service) PiCycle(ctx context.Context) (Response[model.PiCycle], error) {
	return resolve(ctx, s, s.piCycle, config.MetricPiCycle, s.computePiCycle)
}

func (s *Service) computePiCycle(ctx context.Context, log *slog.Logger) (model.MetricResult[model.PiCycle], error) {
	daily := func(tag string, fetch func(ctx context.Context) ([]normalize.RawRecord, error)) chain.Strategy[model.PiCycle] {
		return chain.Strategy[model.PiCycle]{Name: tag, Acquire: func(ctx context.Context) (model.PiCycle, error) {
			recs, err := fetch(ctx)
			if err != nil {
				return model.PiCycle{}, err
			}
			return PiCycleOf(normalize.Merge([]normalize.ProviderSeries{{Tag: tag, Records: recs}}, time.Time{}))
		}}
	}
	c := newChain(s, config.MetricPiCycle, log,
		daily("coingecko", func(ctx context.Context) ([]normalize.RawRecord, error) {
			return s.p.CoinGecko.MarketChart(ctx, coinGeckoPiDays)
		}),
		daily("binance", func(ctx context.Context) ([]normalize.RawRecord, error) {
			return s.p.Binance.Klines(ctx, "1d", piDailyBars)
		}),
		daily("yahoo", func(ctx context.Context) ([]normalize.RawRecord, error) {
			return s.p.Yahoo.Closes(ctx, tickerSymbol, "1d", piDailyBars)
		}),
	)
	c.LastGood = s.piCycle.LastGood
	return c.Resolve(ctx)
}

// PiCycleOf compares SMA-111 with twice SMA-350 on the latest bar. Crossed is set only
// on the bar where SMA-111 moves above.
func PiCycleOf(series model.Series) (model.PiCycle, error) {
	closes := series.Closes()
	if len(closes) < piSlow+1 {
		return model.PiCycle{}, chain.Insufficient("%d daily closes, need %d", len(closes), piSlow+1)
	}
	fast, err := calculator.SMA(closes, piFast)
	if err != nil {
		return model.PiCycle{}, err
	}
	slow, err := calculator.SMA(closes, piSlow)
	if err != nil {
		return model.PiCycle{}, err
	}

	a, b := fast[len(fast)-1], 2*slow[len(slow)-1]
	prevA, prevB := fast[len(fast)-2], 2*slow[len(slow)-2]
	last, _ := series.Last()
	return model.PiCycle{
		Time:        last.At(),
		SMA111:      a,
		SMA350x2:    b,
		Crossed:     a > b && prevA <= prevB,
		DistancePct: (a - b) / b * 100,
	}, nil
}
