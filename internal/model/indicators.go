package model

import "time"

// Indicators holds the oscillator values computed from monthly and weekly closes.
type Indicators struct {
	MonthlyRSI   *float64          `json:"monthlyRsi"`
	RSIDanger    bool              `json:"rsiDanger"`
	WeeklyEMA50  *float64          `json:"weeklyEma50"`
	WeeklyEMA200 *float64          `json:"weeklyEma200"`
	CurrentPrice *float64          `json:"currentPrice"`
	PriceSource  string            `json:"priceSource,omitempty"`
	Sources      map[string]string `json:"sources,omitempty"`
	BreakEMA50   *bool             `json:"breakEma50"`
	BreakEMA200  *bool             `json:"breakEma200"`
	Price        DeltaResult       `json:"priceDelta"`
	Errors       map[string]string `json:"errors,omitempty"`
	UpdatedAt    time.Time         `json:"lastUpdated"`
}

// PiCycle is the SMA-111 vs 2x SMA-350 top indicator on daily closes.
type PiCycle struct {
	Time        time.Time `json:"time"`
	SMA111      float64   `json:"sma111"`
	SMA350x2    float64   `json:"sma350x2"`
	Crossed     bool      `json:"crossed"`
	DistancePct float64   `json:"distancePct"`
}

// Rank is an app-store position. A nil Position with OutsideTop > 0 means the app
// was not within a complete top-N list, which is a value, not a failure.
type Rank struct {
	Position   *float64 `json:"position"`
	OutsideTop int      `json:"outsideTop,omitempty"`
}

// Ranks is the raw provider answer for the tracked app.
type Ranks struct {
	Finance Rank `json:"finance"`
	Overall Rank `json:"overall"`
}

// RankReport is Ranks enriched with sticky deltas from the snapshot tracker.
type RankReport struct {
	Finance      Rank        `json:"finance"`
	Overall      Rank        `json:"overall"`
	FinanceDelta DeltaResult `json:"financeDelta"`
	OverallDelta DeltaResult `json:"overallDelta"`
}
