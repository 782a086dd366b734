package signals

import (
	"fmt"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Severity decides what a matched contradiction does to a signal.
type Severity int

const (
	// SeverityMinor costs a fixed confidence penalty.
	SeverityMinor Severity = iota
	// SeverityCritical rejects the signal outright.
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "minor"
}

// Rule is one contradiction between a direction and the indicator state.
type Rule struct {
	Name      string
	Direction types.Direction
	Severity  Severity
	Applies   func(m types.Metrics) bool
	Describe  func(m types.Metrics) string
}

// Match reports whether the rule fires for a signal.
func (r Rule) Match(dir types.Direction, m types.Metrics) bool {
	return r.Direction == dir && r.Applies != nil && r.Applies(m)
}

func (r Rule) describe(m types.Metrics) string {
	if r.Describe != nil {
		return fmt.Sprintf("%s (%s): %s", r.Name, r.Severity, r.Describe(m))
	}
	return fmt.Sprintf("%s (%s)", r.Name, r.Severity)
}

// macdCrossed is only meaningful when both MACD lines were reported.
func macdCrossed(m types.Metrics) bool {
	return m.MACDLine != 0 && m.MACDSignal != 0
}

// DefaultRules returns the built-in contradiction table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "sell_oversold",
			Direction: types.DirectionSell,
			Severity:  SeverityCritical,
			Applies:   func(m types.Metrics) bool { return m.RSI < 35 },
			Describe:  func(m types.Metrics) string { return fmt.Sprintf("SELL with RSI %.1f < 35", m.RSI) },
		},
		{
			Name:      "buy_overbought",
			Direction: types.DirectionBuy,
			Severity:  SeverityCritical,
			Applies:   func(m types.Metrics) bool { return m.RSI > 75 },
			Describe:  func(m types.Metrics) string { return fmt.Sprintf("BUY with RSI %.1f > 75", m.RSI) },
		},
		{
			Name:      "sell_bullish_macd",
			Direction: types.DirectionSell,
			Severity:  SeverityCritical,
			Applies:   func(m types.Metrics) bool { return m.MACDHistogram > 0.0005 },
			Describe: func(m types.Metrics) string {
				return fmt.Sprintf("SELL with MACD histogram %.6f > 0.0005", m.MACDHistogram)
			},
		},
		{
			Name:      "buy_bearish_macd_selloff",
			Direction: types.DirectionBuy,
			Severity:  SeverityMinor,
			Applies:   func(m types.Metrics) bool { return m.MACDHistogram < -0.001 && m.PriceChange24h < -5 },
			Describe: func(m types.Metrics) string {
				return fmt.Sprintf("BUY with bearish MACD during %.1f%% drop", m.PriceChange24h)
			},
		},
		{
			Name:      "sell_into_rally",
			Direction: types.DirectionSell,
			Severity:  SeverityCritical,
			Applies:   func(m types.Metrics) bool { return m.PriceChange24h > 10 && m.RSI < 55 },
			Describe: func(m types.Metrics) string {
				return fmt.Sprintf("SELL during %.1f%% rally with RSI %.1f < 55", m.PriceChange24h, m.RSI)
			},
		},
		{
			Name:      "sell_bullish_crossover",
			Direction: types.DirectionSell,
			Severity:  SeverityMinor,
			Applies: func(m types.Metrics) bool {
				return macdCrossed(m) && m.MACDLine > m.MACDSignal && m.MACDHistogram > 0.001
			},
		},
		{
			Name:      "buy_bearish_crossover",
			Direction: types.DirectionBuy,
			Severity:  SeverityMinor,
			Applies: func(m types.Metrics) bool {
				return macdCrossed(m) && m.MACDLine < m.MACDSignal && m.MACDHistogram < -0.001
			},
		},
	}
}

// contradictionScan is the outcome of running a rule table over one signal.
type contradictionScan struct {
	matched  []string
	critical bool
	minor    int
}

func scanContradictions(rules []Rule, dir types.Direction, m types.Metrics) contradictionScan {
	var scan contradictionScan
	for _, r := range rules {
		if !r.Match(dir, m) {
			continue
		}
		scan.matched = append(scan.matched, r.describe(m))
		if r.Severity == SeverityCritical {
			scan.critical = true
		} else {
			scan.minor++
		}
	}
	return scan
}

// statsAdjustment corrects systematic over- and under-confidence. conf is in points.
func statsAdjustment(dir types.Direction, m types.Metrics, conf float64) (float64, []string) {
	var adj float64
	var issues []string

	if m.RSI >= 50 && m.RSI <= 55 && conf > 70 {
		adj -= 25
		issues = append(issues, fmt.Sprintf("confidence %.0f too high for neutral RSI %.1f", conf, m.RSI))
	}
	if m.RSI < 20 && dir == types.DirectionBuy && conf < 60 {
		adj += 15
		issues = append(issues, fmt.Sprintf("confidence %.0f too low for oversold RSI %.1f", conf, m.RSI))
	}
	if m.RSI > 80 && dir == types.DirectionSell && conf < 60 {
		adj += 15
		issues = append(issues, fmt.Sprintf("confidence %.0f too low for overbought RSI %.1f", conf, m.RSI))
	}
	if dir == types.DirectionBuy && m.MACDHistogram > 0.002 {
		adj += 5
	}
	if dir == types.DirectionSell && m.MACDHistogram < -0.002 {
		adj += 5
	}
	if m.PriceChange24h > 20 || m.PriceChange24h < -20 {
		adj -= 10
		issues = append(issues, fmt.Sprintf("24h volatility %+.1f%%", m.PriceChange24h))
	}
	return adj, issues
}
