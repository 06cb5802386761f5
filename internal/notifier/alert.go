package notifier

import (
	"fmt"
	"sync"

	"TopSignals/internal/model"
)

const coinbaseTopN = 10

// Snapshot is the latest value of every metric the rules look at. Nil means unavailable.
type Snapshot struct {
	Indicators *model.Indicators
	PiCycle    *model.PiCycle
	Ranks      *model.RankReport
}

// Alert is one rule firing.
type Alert struct {
	Rule     string
	Priority string
	Message  string
}

// Rule is an edge-triggered condition: it fires when it becomes active and re-arms once
// it is observed inactive again.
type Rule struct {
	Name     string
	Priority string
	// Eval reports whether the condition holds; ok is false when its input is missing,
	// which leaves the rule state untouched.
	Eval    func(Snapshot) (active, ok bool)
	Message func(Snapshot) string
	// AlreadyHeld optionally reports that stored history shows the condition held before,
	// so becoming active in this process is not a real transition.
	AlreadyHeld func(Snapshot) bool
}

// Alerter evaluates rules against snapshots and remembers which ones are active.
type Alerter struct {
	rules []Rule

	mu     sync.Mutex
	active map[string]bool
	path   string
}

// NewAlerter creates an Alerter for rules; DefaultRules when none are given.
func NewAlerter(rules ...Rule) *Alerter {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Alerter{rules: rules, active: make(map[string]bool)}
}

// Evaluate returns the alerts for rules that just became active.
func (a *Alerter) Evaluate(s Snapshot) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Alert
	for _, r := range a.rules {
		active, ok := r.Eval(s)
		if !ok {
			continue
		}
		was := a.active[r.Name]
		a.active[r.Name] = active
		if !active || was {
			continue
		}
		if r.AlreadyHeld != nil && r.AlreadyHeld(s) {
			continue
		}
		out = append(out, Alert{Rule: r.Name, Priority: r.Priority, Message: r.Message(s)})
	}
	return out
}

// Active reports whether rule is currently active.
func (a *Alerter) Active(rule string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[rule]
}

// DefaultRules are the market top and bottom signals.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "pi_cycle",
			Priority: "HIGH",
			Eval: func(s Snapshot) (bool, bool) {
				if s.PiCycle == nil {
					return false, false
				}
				return s.PiCycle.Crossed, true
			},
			Message: func(Snapshot) string {
				return "🚨 <b>Pi-Cycle Top</b> indicator just triggered: SMA-111 crossed above 2x SMA-350."
			},
		},
		{
			Name:     "monthly_rsi",
			Priority: "HIGH",
			Eval: func(s Snapshot) (bool, bool) {
				if s.Indicators == nil || s.Indicators.MonthlyRSI == nil {
					return false, false
				}
				return s.Indicators.RSIDanger, true
			},
			Message: func(s Snapshot) string {
				return fmt.Sprintf("📊 BTC monthly RSI hit <b>%.1f</b>, extreme overbought zone (≥80).", *s.Indicators.MonthlyRSI)
			},
		},
		{
			Name:     "weekly_ema",
			Priority: "HIGH",
			Eval: func(s Snapshot) (bool, bool) {
				if s.Indicators == nil || s.Indicators.BreakEMA200 == nil {
					return false, false
				}
				return *s.Indicators.BreakEMA200, true
			},
			Message: func(s Snapshot) string {
				return fmt.Sprintf("⬇️ Bitcoin broke below the 200-week EMA ($%.0f).", *s.Indicators.WeeklyEMA200)
			},
		},
		{
			Name:     "coinbase_rank",
			Priority: "MEDIUM",
			Eval: func(s Snapshot) (bool, bool) {
				if s.Ranks == nil {
					return false, false
				}
				pos := s.Ranks.Overall.Position
				if pos == nil {
					return false, s.Ranks.Overall.OutsideTop > 0
				}
				return *pos <= coinbaseTopN, true
			},
			Message: func(s Snapshot) string {
				return fmt.Sprintf("🚀 Coinbase app climbed to <b>#%.0f</b> on the App Store.", *s.Ranks.Overall.Position)
			},
			AlreadyHeld: func(s Snapshot) bool {
				prev := s.Ranks.OverallDelta.Previous
				return prev != nil && *prev <= coinbaseTopN
			},
		},
	}
}
