package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"TopSignals/internal/chain"
	"TopSignals/internal/collector"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/normalize"
	"TopSignals/internal/provider"
)

const (
	binanceMaxRecords   = 10000
	binancePageDelay    = 100 * time.Millisecond
	cryptoComparePages  = 5
	cryptoCompareDelay  = 500 * time.Millisecond
	coinGeckoOHLCDays   = 365
	priorityBinance     = 0
	priorityCryptoComp  = 1
	priorityCoinGeckoFb = 2
	// historyMaxLag is how far the newest daily candle may trail now.
	historyMaxLag = 3 * 24 * time.Hour
)

// HistoryEarliest is the first day the daily history is expected to cover.
var HistoryEarliest = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

// BTCHistory returns the merged daily BTC price history.
func (s *Service) BTCHistory(ctx context.Context) (Response[model.Series], error) {
	return resolve(ctx, s, s.history, config.MetricBTCHistory, s.computeHistory)
}

func (s *Service) computeHistory(ctx context.Context, log *slog.Logger) (model.MetricResult[model.Series], error) {
	c := newChain(s, config.MetricBTCHistory, log,
		chain.Strategy[model.Series]{Name: "binance+cryptocompare", Acquire: func(ctx context.Context) (model.Series, error) {
			return s.exchangeHistory(ctx, log)
		}},
		chain.Strategy[model.Series]{Name: "coingecko", Acquire: s.coinGeckoHistory},
	)
	c.Validate = func(v model.Series) error {
		if v.Len() == 0 {
			return chain.Insufficient("no candles")
		}
		if oldest := s.now().Add(-historyMaxLag); v.RangeEnd.Before(oldest) {
			return chain.Insufficient("series ends %s, need %s or later",
				v.RangeEnd.Format(time.DateOnly), oldest.Format(time.DateOnly))
		}
		return nil
	}
	c.Count = model.Series.Len
	c.LastGood = s.history.LastGood
	return c.Resolve(ctx)
}

// exchangeHistory walks Binance daily klines back to the listing date, then fills
// the earlier years from CryptoCompare. Binance carries the recent end, so without it
// the strategy fails; a CryptoCompare failure only shortens the series.
func (s *Service) exchangeHistory(ctx context.Context, log *slog.Logger) (model.Series, error) {
	bn, err := collector.Collect(ctx, s.col, s.p.Binance.DailyPages(s.now()), collector.Limits{
		Boundary:   provider.BinanceListing,
		MaxRecords: binanceMaxRecords,
		PageDelay:  binancePageDelay,
		Policy:     s.p.Binance.Policy(),
	})
	if err != nil {
		return model.Series{}, fmt.Errorf("binance history: %w", err)
	}
	oldest, ok := oldestMillis(bn.Records)
	if !ok {
		return model.Series{}, chain.Insufficient("binance returned no daily klines (%s)", bn.Reason)
	}
	log.Info("binance history collected", "records", len(bn.Records), "pages", bn.Pages, "reason", bn.Reason)
	if bn.Err != nil {
		log.Warn("binance history is partial", "error", bn.Err)
	}
	inputs := []normalize.ProviderSeries{{Tag: "binance", Priority: priorityBinance, Records: bn.Records}}

	cc, err := s.collectCryptoCompare(ctx, time.UnixMilli(oldest).UTC())
	if err != nil {
		log.Warn("cryptocompare history failed", "error", err)
	} else {
		log.Info("cryptocompare history collected", "records", len(cc.Records), "pages", cc.Pages, "reason", cc.Reason)
		inputs = append(inputs, normalize.ProviderSeries{Tag: "cryptocompare", Priority: priorityCryptoComp, Records: cc.Records})
	}
	return normalize.Merge(inputs, HistoryEarliest), nil
}

func (s *Service) collectCryptoCompare(ctx context.Context, before time.Time) (collector.Result[normalize.RawRecord], error) {
	strategy, err := s.p.CryptoCompare.HistoryBefore(before)
	if err != nil {
		return collector.Result[normalize.RawRecord]{}, err
	}
	return collector.Collect(ctx, s.col, strategy, collector.Limits{
		Boundary:  provider.CryptoCompareCutoff,
		MaxPages:  cryptoComparePages,
		PageDelay: cryptoCompareDelay,
		Policy:    s.p.CryptoCompare.Policy(),
	})
}

func (s *Service) coinGeckoHistory(ctx context.Context) (model.Series, error) {
	recs, err := s.p.CoinGecko.OHLC(ctx, coinGeckoOHLCDays)
	if err != nil {
		return model.Series{}, err
	}
	return normalize.Merge([]normalize.ProviderSeries{
		{Tag: "coingecko", Priority: priorityCoinGeckoFb, Records: recs},
	}, HistoryEarliest), nil
}

func oldestMillis(recs []normalize.RawRecord) (int64, bool) {
	if len(recs) == 0 {
		return 0, false
	}
	oldest := recs[0].Millis()
	for _, r := range recs[1:] {
		if ms := r.Millis(); ms < oldest {
			oldest = ms
		}
	}
	return oldest, true
}
