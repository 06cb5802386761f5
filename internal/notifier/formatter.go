package notifier

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"TopSignals/internal/model"
)

// FormatSignals renders the indicator and Pi-Cycle state for the /signals command.
// Either argument may be nil when that metric is unavailable.
func FormatSignals(ind *model.Indicators, pi *model.PiCycle) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>TopSignals</b> | %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 UTC")))

	if pi != nil {
		b.WriteString("<b>Pi-Cycle Top</b>\n")
		b.WriteString(fmt.Sprintf("  SMA-111: %.0f | 2x SMA-350: %.0f\n", pi.SMA111, pi.SMA350x2))
		b.WriteString(fmt.Sprintf("  Distance: %+.2f%%%s\n\n", pi.DistancePct, flag(pi.Crossed, " 🚨 crossed")))
	} else {
		b.WriteString("<b>Pi-Cycle Top</b>: unavailable\n\n")
	}

	if ind == nil {
		b.WriteString("<b>Indicators</b>: unavailable\n")
		return b.String()
	}

	b.WriteString("<b>Indicators</b>\n")
	if ind.CurrentPrice != nil {
		b.WriteString(fmt.Sprintf("  Price: $%.0f%s\n", *ind.CurrentPrice, direction(ind.Price)))
	}
	if ind.MonthlyRSI != nil {
		b.WriteString(fmt.Sprintf("  Monthly RSI: %.1f%s\n", *ind.MonthlyRSI, flag(ind.RSIDanger, " ⚠️ overbought")))
	}
	if ind.WeeklyEMA50 != nil {
		b.WriteString(fmt.Sprintf("  Weekly EMA-50: $%.0f%s\n", *ind.WeeklyEMA50, flag(isTrue(ind.BreakEMA50), " ⬇️ below")))
	}
	if ind.WeeklyEMA200 != nil {
		b.WriteString(fmt.Sprintf("  Weekly EMA-200: $%.0f%s\n", *ind.WeeklyEMA200, flag(isTrue(ind.BreakEMA200), " ⬇️ below")))
	}
	for _, k := range sortedKeys(ind.Errors) {
		b.WriteString(fmt.Sprintf("  ❔ %s: %s\n", k, ind.Errors[k]))
	}
	return b.String()
}

// FormatRanks renders the Coinbase App Store positions for the /ranks command.
func FormatRanks(r *model.RankReport) string {
	if r == nil {
		return "📱 <b>Coinbase App Store</b>: unavailable"
	}
	var b strings.Builder
	b.WriteString("📱 <b>Coinbase App Store</b>\n\n")
	b.WriteString(fmt.Sprintf("  Finance: %s%s\n", position(r.Finance), direction(r.FinanceDelta)))
	b.WriteString(fmt.Sprintf("  Overall: %s%s\n", position(r.Overall), direction(r.OverallDelta)))
	return b.String()
}

// FormatAlert wraps one alert for delivery.
func FormatAlert(a Alert) string {
	return fmt.Sprintf("<b>[%s]</b> %s", a.Priority, a.Message)
}

// Help lists the chat commands.
func Help() string {
	return "Available commands:\n• /signals\n• /ranks"
}

func position(r model.Rank) string {
	switch {
	case r.Position != nil:
		return fmt.Sprintf("#%.0f", *r.Position)
	case r.OutsideTop > 0:
		return fmt.Sprintf(">%d", r.OutsideTop)
	default:
		return "n/a"
	}
}

func direction(d model.DeltaResult) string {
	if d.Change == nil {
		return ""
	}
	switch d.Direction {
	case model.DirectionUp:
		return fmt.Sprintf(" (▲ %+.0f)", *d.Change)
	case model.DirectionDown:
		return fmt.Sprintf(" (▼ %+.0f)", *d.Change)
	default:
		return ""
	}
}

func flag(on bool, s string) string {
	if on {
		return s
	}
	return ""
}

func isTrue(b *bool) bool { return b != nil && *b }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
