package risk

import (
	"time"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Position is one open exposure. A zero StopLoss or TakeProfit means none was set.
type Position struct {
	Symbol        string     `json:"symbol"`
	Side          types.Side `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	Amount        float64    `json:"amount"`
	StopLoss      float64    `json:"stop_loss,omitempty"`
	TakeProfit    float64    `json:"take_profit,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
}

func (p Position) Notional() float64 {
	return p.Amount * p.EntryPrice
}

// Risk is the loss at the stop, or 0 for a position without one.
func (p Position) Risk() float64 {
	if p.StopLoss <= 0 {
		return 0
	}
	return abs(p.EntryPrice-p.StopLoss) * p.Amount
}

func (p Position) pnlAt(price float64) float64 {
	if p.Side == types.SideSell {
		return (p.EntryPrice - price) * p.Amount
	}
	return (price - p.EntryPrice) * p.Amount
}

// TradeRequest is a proposed entry awaiting approval.
type TradeRequest struct {
	Symbol   string     `json:"symbol"`
	Side     types.Side `json:"side"`
	Amount   float64    `json:"amount"`
	Entry    float64    `json:"entry"`
	StopLoss float64    `json:"stop_loss,omitempty"`
}

func (r TradeRequest) Notional() float64 {
	return r.Amount * r.Entry
}

// Check names the gate that decided a trade.
type Check string

const (
	CheckInput              Check = "input"
	CheckOpenPosition       Check = "open_position"
	CheckDailyLoss          Check = "daily_loss_limit"
	CheckMaxPositions       Check = "max_positions"
	CheckPortfolioRisk      Check = "portfolio_risk"
	CheckCorrelatedExposure Check = "correlated_exposure"
	CheckPositionSize       Check = "position_size"
	CheckPassed             Check = "passed"
)

// Decision is the outcome of ValidateTrade.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Check    Check  `json:"check"`
}

func accept() Decision {
	return Decision{Accepted: true, Reason: "trade validated", Check: CheckPassed}
}

func reject(check Check, reason string) Decision {
	return Decision{Reason: reason, Check: check}
}

// Err returns a RiskRejected error for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return boterrors.NewRiskRejectedError("risk", "validate_trade", d.Reason).WithContext("check", string(d.Check))
}

// PortfolioStats is a point-in-time view of the ledger.
type PortfolioStats struct {
	Balance            float64 `json:"balance"`
	DailyPnL           float64 `json:"daily_pnl"`
	DailyPnLPct        float64 `json:"daily_pnl_pct"`
	OpenPositions      int     `json:"open_positions"`
	TotalNotional      float64 `json:"total_notional"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`
	TotalRisk          float64 `json:"total_risk"`
	RiskPct            float64 `json:"risk_pct"`
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	WinRate            float64 `json:"win_rate"` // percent
	MaxPositions       int     `json:"max_positions"`
	DailyLossLimit     float64 `json:"daily_loss_limit"` // quote currency
	TradingHalted      bool    `json:"trading_halted"`
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
