package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		closes  []float64
		period  int
		want    []float64
		wantErr bool
	}{
		{"basic", []float64{1, 2, 3, 4, 5}, 3, []float64{2, 3, 4}, false},
		{"exact length", []float64{2, 4}, 2, []float64{3}, false},
		{"too short", []float64{1}, 2, nil, true},
		{"bad period", []float64{1, 2}, 0, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(tt.closes, tt.period)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-9)
		})
	}
}

func TestEMA(t *testing.T) {
	got, err := EMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	// seed = 2, k = 0.5: 3, 4, 5
	assert.InDeltaSlice(t, []float64{2, 3, 4, 5}, got, 1e-9)

	v, err := CalculateEMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, v, 1e-9)
}

func TestRSI(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	v, err := CalculateRSI(rising, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	series, err := RSI(rising, 14)
	require.NoError(t, err)
	assert.Len(t, series, 6)

	alternating := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10}
	v, err = CalculateRSI(alternating, 14)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, v, 1e-9)

	_, err = RSI(rising[:14], 14)
	assert.Error(t, err)
}
