package risk

import "math"

// SizePosition returns an amount in base units that risks MaxRiskPerTrade of
// the balance between entry and stop. With useKelly and enough closed history
// the amount grows with historical edge; otherwise it shrinks with confidence.
func (m *Manager) SizePosition(entry, stopLoss, confidence float64, useKelly bool) float64 {
	if entry <= 0 {
		return 0
	}
	confidence = math.Max(0, math.Min(confidence, 1))

	m.mu.Lock()
	balance, total, wins := m.balance, m.totalTrades, m.winningTrades
	m.mu.Unlock()

	riskAmount := balance * m.cfg.MaxRiskPerTrade
	priceRisk := abs(entry - stopLoss)
	if priceRisk == 0 {
		m.log.Warn().Float64("entry", entry).Msg("zero price risk, falling back to default stop distance")
		priceRisk = entry * m.cfg.DefaultStopPct
	}
	base := riskAmount / priceRisk

	size := base * confidence
	if useKelly && total > m.cfg.MinKellyTrades {
		k := m.cfg.KellyFraction(float64(wins) / float64(total))
		size = base * (1 + (k/m.cfg.KellyCap)*confidence)
	}

	m.log.Debug().Float64("entry", entry).Float64("stop_loss", stopLoss).
		Float64("confidence", confidence).Float64("amount", size).
		Float64("notional", size*entry).Msg("position sized")
	return size
}

// KellyFraction is the Kelly bet for a win rate at the configured reward:risk,
// clamped to [0, KellyCap].
func (c Config) KellyFraction(winRate float64) float64 {
	b := c.RewardRisk
	k := (winRate*b - (1 - winRate)) / b
	return math.Max(0, math.Min(k, c.KellyCap))
}
