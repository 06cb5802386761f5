package model

import "time"

// Candle is a single time-bucketed price observation. Time is in Unix milliseconds.
type Candle struct {
	Time   int64    `json:"time"`
	Open   *float64 `json:"open,omitempty"`
	High   *float64 `json:"high,omitempty"`
	Low    *float64 `json:"low,omitempty"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// At returns the candle timestamp as a UTC time.
func (c Candle) At() time.Time {
	return time.UnixMilli(c.Time).UTC()
}

// Series is a normalized, strictly ascending candle sequence plus coverage metadata.
type Series struct {
	Candles    []Candle  `json:"prices"`
	SourceTags []string  `json:"sources"`
	IsLimited  bool      `json:"isLimitedData"`
	RangeStart time.Time `json:"rangeStart"`
	RangeEnd   time.Time `json:"rangeEnd"`
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.Candles) }

// Closes extracts close prices oldest to newest.
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Last returns the newest candle.
func (s Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Float returns a pointer to v, for optional candle fields and nullable observations.
func Float(v float64) *float64 { return &v }
