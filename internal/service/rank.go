package service

import (
	"context"
	"log/slog"

	"TopSignals/internal/chain"
	"TopSignals/internal/config"
	"TopSignals/internal/model"
	"TopSignals/internal/provider"
)

// CoinbaseRank returns the Coinbase App Store ranks with their sticky trends.
func (s *Service) CoinbaseRank(ctx context.Context) (Response[model.RankReport], error) {
	return resolve(ctx, s, s.ranks, config.MetricCoinbaseRank, s.computeRank)
}

func rankStrategy(name string, ranks func(context.Context) (model.Ranks, error)) chain.Strategy[model.RankReport] {
	return chain.Strategy[model.RankReport]{Name: name, Acquire: func(ctx context.Context) (model.RankReport, error) {
		r, err := ranks(ctx)
		if err != nil {
			return model.RankReport{}, err
		}
		return model.RankReport{Finance: r.Finance, Overall: r.Overall}, nil
	}}
}

func (s *Service) computeRank(ctx context.Context, log *slog.Logger) (model.MetricResult[model.RankReport], error) {
	c := newChain(s, config.MetricCoinbaseRank, log,
		rankStrategy("searchapi", s.p.SearchAPI.Ranks),
		rankStrategy("appstore", s.p.AppStore.Ranks),
	)
	c.Validate = func(r model.RankReport) error {
		if !provider.ValidRanks(model.Ranks{Finance: r.Finance, Overall: r.Overall}) {
			return chain.Insufficient("no finance rank")
		}
		return nil
	}
	c.LastGood = s.ranks.LastGood

	res, err := c.Resolve(ctx)
	if err != nil || res.Stale || res.Source == model.SourceStatic {
		return res, err
	}

	// Each rank is its own scalar series so one can change while the other holds.
	res.Value.FinanceDelta = s.track(ctx, log, config.ScalarFinanceRank, res.Value.Finance.Position, res.Source)
	res.Value.OverallDelta = s.track(ctx, log, config.ScalarOverallRank, res.Value.Overall.Position, res.Source)
	return res, nil
}

func (s *Service) track(ctx context.Context, log *slog.Logger, metric string, value *float64, source string) model.DeltaResult {
	delta, err := s.tracker.RecordAndDiff(ctx, metric, value, source)
	if err != nil {
		log.Warn("snapshot not recorded", "scalar", metric, "error", err)
	}
	return delta
}
