package provider

import (
	"encoding/json"
	"strconv"
	"strings"

	"TopSignals/internal/model"
)

// Identity of the tracked app in the US App Store.
const (
	CoinbaseAppleID  = "886427730"
	CoinbaseBundleID = "com.coinbase.app"
)

// ChartEntry is one row of an app-store top chart.
type ChartEntry struct {
	Position int
	ID       string
	BundleID string
	Title    string
}

func isTracked(e ChartEntry) bool {
	if e.ID == CoinbaseAppleID || e.BundleID == CoinbaseBundleID {
		return true
	}
	t := strings.ToLower(strings.TrimSpace(e.Title))
	return t == "coinbase" || strings.HasPrefix(t, "coinbase:")
}

// rankIn locates the tracked app in a complete chart. Absence from a non-empty chart is
// reported as OutsideTop, which is a value rather than a failure.
func rankIn(entries []ChartEntry) model.Rank {
	for _, e := range entries {
		if isTracked(e) {
			return model.Rank{Position: model.Float(float64(e.Position))}
		}
	}
	return model.Rank{OutsideTop: len(entries)}
}

// idString renders an id that providers send either as a number or a string.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

// ValidRanks accepts a rank answer when the finance chart produced a position or a
// complete list to be outside of.
func ValidRanks(r model.Ranks) bool {
	return r.Finance.Position != nil || r.Finance.OutsideTop > 0
}
