package pipeline

import (
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/integrator"
	"github.com/ducminhle1904/crypto-signal-bot/internal/risk"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Request is one evaluation cycle for one symbol. A zero StopLoss or
// TakeProfit is derived from EntryPrice.
type Request struct {
	Symbol     string               `json:"symbol"`
	EntryPrice float64              `json:"entry_price"`
	StopLoss   float64              `json:"stop_loss,omitempty"`
	TakeProfit float64              `json:"take_profit,omitempty"`
	OrderType  types.OrderType      `json:"order_type,omitempty"`
	Sources    []types.SourceSignal `json:"sources"`
	ReceivedAt time.Time            `json:"received_at"`
}

// Stage names the last stage a decision reached
type Stage string

const (
	StageInput     Stage = "input"
	StageIntegrate Stage = "integrate"
	StageLevels    Stage = "levels"
	StageSizing    Stage = "sizing"
	StageRisk      Stage = "risk"
	StageExecute   Stage = "execute"
)

type Outcome string

const (
	OutcomeHold     Outcome = "hold"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeExecuted Outcome = "executed"
)

// Decision records what one evaluation did and why
type Decision struct {
	Symbol     string                       `json:"symbol"`
	Stage      Stage                        `json:"stage"`
	Outcome    Outcome                      `json:"outcome"`
	Reason     string                       `json:"reason,omitempty"`
	Signal     *integrator.IntegratedSignal `json:"signal,omitempty"`
	Quality    *integrator.Quality          `json:"quality,omitempty"`
	Side       types.Side                   `json:"side,omitempty"`
	Amount     float64                      `json:"amount,omitempty"`
	Entry      float64                      `json:"entry,omitempty"`
	StopLoss   float64                      `json:"stop_loss,omitempty"`
	TakeProfit float64                      `json:"take_profit,omitempty"`
	Risk       *risk.Decision               `json:"risk,omitempty"`
	Order      *execution.ManagedOrder      `json:"order,omitempty"`
}

func (d *Decision) Executed() bool {
	return d.Outcome == OutcomeExecuted
}
