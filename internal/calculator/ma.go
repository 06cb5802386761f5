// Package calculator holds the indicator functions. Every function is pure and
// returns values aligned to the tail of its input: the last output belongs to the last close.
package calculator

import (
	"errors"
)

var (
	errPeriod       = errors.New("period must be positive")
	errInsufficient = errors.New("not enough data")
)

// SMA returns the simple moving average series over period.
// The result has len(closes)-period+1 values.
func SMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errPeriod
	}
	if len(closes) < period {
		return nil, errInsufficient
	}
	out := make([]float64, 0, len(closes)-period+1)
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= period {
			sum -= closes[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out, nil
}

// EMA returns the exponential moving average series over period, seeded with the SMA
// of the first period closes. The result has len(closes)-period+1 values.
func EMA(closes []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errPeriod
	}
	if len(closes) < period {
		return nil, errInsufficient
	}
	k := 2.0 / float64(period+1)
	seed := 0.0
	for _, c := range closes[:period] {
		seed += c
	}
	prev := seed / float64(period)
	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, prev)
	for _, c := range closes[period:] {
		prev = (c-prev)*k + prev
		out = append(out, prev)
	}
	return out, nil
}

// CalculateEMA computes the latest exponential moving average over period.
func CalculateEMA(closes []float64, period int) (float64, error) {
	return last(EMA(closes, period))
}

func last(series []float64, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}
