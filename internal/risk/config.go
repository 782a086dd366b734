package risk

import (
	"fmt"
)

// Config holds account-wide risk limits. Fractions are of the current balance.
type Config struct {
	MaxRiskPerTrade       float64 `json:"max_risk_per_trade" toml:"max_risk_per_trade"`
	MaxPortfolioRisk      float64 `json:"max_portfolio_risk" toml:"max_portfolio_risk"`
	MaxCorrelatedExposure float64 `json:"max_correlated_exposure" toml:"max_correlated_exposure"`
	MaxPositions          int     `json:"max_positions" toml:"max_positions"`
	DailyLossLimit        float64 `json:"daily_loss_limit" toml:"daily_loss_limit"`

	// Kelly sizing
	RewardRisk     float64 `json:"reward_risk" toml:"reward_risk"`
	KellyCap       float64 `json:"kelly_cap" toml:"kelly_cap"`
	MinKellyTrades int     `json:"min_kelly_trades" toml:"min_kelly_trades"`

	// Sanity bounds on a single trade's notional
	MaxNotional float64 `json:"max_notional" toml:"max_notional"`
	MinNotional float64 `json:"min_notional" toml:"min_notional"`

	// Protective levels
	DefaultStopPct float64 `json:"default_stop_pct" toml:"default_stop_pct"`
	MinRiskReward  float64 `json:"min_risk_reward" toml:"min_risk_reward"`
	TrailingPct    float64 `json:"trailing_pct" toml:"trailing_pct"`
}

func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:       0.01,
		MaxPortfolioRisk:      0.05,
		MaxCorrelatedExposure: 0.10,
		MaxPositions:          10,
		DailyLossLimit:        0.02,
		RewardRisk:            2.0,
		KellyCap:              0.25,
		MinKellyTrades:        10,
		MaxNotional:           0.5,
		MinNotional:           0.001,
		DefaultStopPct:        0.02,
		MinRiskReward:         2.0,
		TrailingPct:           0.005,
	}
}

// Validate checks that every limit is usable.
func (c Config) Validate() error {
	fractions := map[string]float64{
		"max_risk_per_trade":      c.MaxRiskPerTrade,
		"max_portfolio_risk":      c.MaxPortfolioRisk,
		"max_correlated_exposure": c.MaxCorrelatedExposure,
		"daily_loss_limit":        c.DailyLossLimit,
		"kelly_cap":               c.KellyCap,
		"max_notional":            c.MaxNotional,
		"default_stop_pct":        c.DefaultStopPct,
		"trailing_pct":            c.TrailingPct,
	}
	for name, v := range fractions {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", name, v)
		}
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("max_positions must be positive, got %d", c.MaxPositions)
	}
	if c.RewardRisk <= 0 {
		return fmt.Errorf("reward_risk must be positive, got %v", c.RewardRisk)
	}
	if c.MinNotional < 0 || c.MinNotional >= c.MaxNotional {
		return fmt.Errorf("min_notional %v must be below max_notional %v", c.MinNotional, c.MaxNotional)
	}
	if c.MinRiskReward < 0 {
		return fmt.Errorf("min_risk_reward must not be negative, got %v", c.MinRiskReward)
	}
	return nil
}
