// Package pipeline runs one symbol's decision chain: integrate the source
// signals, derive protective levels, size, gate on account risk and place
// the order unit. Each stage either commits fully or leaves no trace.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/events"
	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/integrator"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/internal/notifications"
	"github.com/ducminhle1904/crypto-signal-bot/internal/risk"
	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

const component = "pipeline"

// Recorder persists finished order units and closed trades
type Recorder interface {
	SaveOrder(ctx context.Context, mo execution.ManagedOrder) error
	SaveTrade(ctx context.Context, t store.TradeRecord) error
}

// Deps are the collaborators one pipeline drives. Recorder, Events,
// Notifier and Health are optional.
type Deps struct {
	Integrator *integrator.Integrator
	Risk       risk.RiskManager
	Executor   *execution.Executor
	Recorder   Recorder
	Events     events.Sink
	Notifier   notifications.Notifier
	Health     *monitoring.HealthChecker
	Now        func() time.Time
}

type Pipeline struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

// New wires the pipeline and registers its completion, leg-failure and exit
// hooks on the executor.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.LogNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.OrderType == "" {
		cfg.OrderType = DefaultConfig().OrderType
	}
	if cfg.HookTimeoutSeconds <= 0 {
		cfg.HookTimeoutSeconds = DefaultConfig().HookTimeoutSeconds
	}

	p := &Pipeline{deps: deps, cfg: cfg, log: logger.Component(component)}
	deps.Executor.AddCompletionHook(p.onOrderComplete)
	deps.Executor.AddLegFailureHook(p.onLegFailure)
	deps.Executor.AddExitHook(p.onPositionExit)
	return p
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// Evaluate runs stages 1 to 5 for req. HOLD decisions return without error;
// risk rejections and execution failures return the decision together with a
// categorized error.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	d := &Decision{Symbol: req.Symbol, Stage: StageInput, Entry: req.EntryPrice}
	if err := checkRequest(req); err != nil {
		d.Outcome, d.Reason = OutcomeRejected, err.Error()
		return d, err
	}
	if err := ctx.Err(); err != nil {
		return d, err
	}
	if p.deps.Health != nil {
		p.deps.Health.MarkEvaluation(p.deps.Now())
	}

	// stages 1 to 3
	d.Stage = StageIntegrate
	sig, err := p.deps.Integrator.Integrate(req.Symbol, req.Sources)
	if err != nil {
		d.Outcome, d.Reason = OutcomeRejected, err.Error()
		return d, err
	}
	d.Signal = sig
	q := integrator.SummarizeQuality(sig)
	d.Quality = &q
	if !sig.Actionable() {
		d.Outcome = OutcomeHold
		d.Reason = fmt.Sprintf("integrated direction %s via %s", displayDirection(sig), sig.Method)
		p.log.Info().Str("symbol", req.Symbol).Str("method", string(sig.Method)).
			Float64("confidence", sig.Confidence).Msg("no trade, holding")
		return d, nil
	}
	side, err := sig.Direction.Side()
	if err != nil {
		return d, boterrors.NewInvalidInputError(component, "evaluate", err.Error())
	}
	d.Side = side

	// protective levels
	d.Stage = StageLevels
	rcfg := p.deps.Risk.Config()
	d.StopLoss = req.StopLoss
	if d.StopLoss <= 0 {
		d.StopLoss = rcfg.DefaultStopLoss(req.EntryPrice, side)
	}
	d.TakeProfit = req.TakeProfit
	if d.TakeProfit <= 0 {
		d.TakeProfit = rcfg.TakeProfitFor(req.EntryPrice, d.StopLoss, side)
	}
	if err := rcfg.ValidateRiskReward(req.EntryPrice, d.StopLoss, d.TakeProfit); err != nil {
		return p.reject(d, "risk_reward", err.Error())
	}

	// stage 4
	d.Stage = StageSizing
	d.Amount = p.deps.Risk.SizePosition(req.EntryPrice, d.StopLoss, sig.Confidence, p.cfg.UseKelly)
	if !(d.Amount > 0) || math.IsInf(d.Amount, 0) {
		return p.reject(d, "sizing", fmt.Sprintf("position size %v is not tradable", d.Amount))
	}

	d.Stage = StageRisk
	rd, err := p.deps.Risk.TryOpen(risk.TradeRequest{
		Symbol:   req.Symbol,
		Side:     side,
		Amount:   d.Amount,
		Entry:    req.EntryPrice,
		StopLoss: d.StopLoss,
	}, d.TakeProfit)
	d.Risk = &rd
	if err != nil {
		d.Outcome, d.Reason = OutcomeRejected, rd.Reason
		if rd.Accepted || rd.Reason == "" {
			d.Reason = err.Error()
		}
		p.publish(events.New(events.TypeDecisionSkipped, req.Symbol, d))
		return d, err
	}

	// stage 5
	d.Stage = StageExecute
	orderType := req.OrderType
	if orderType == "" {
		orderType = p.cfg.OrderType
	}
	place := execution.PlaceRequest{
		Symbol:         req.Symbol,
		Side:           side,
		Type:           orderType,
		Amount:         d.Amount,
		ReferencePrice: req.EntryPrice,
		StopLoss:       d.StopLoss,
		TakeProfit:     d.TakeProfit,
	}
	if orderType == types.OrderTypeLimit {
		place.Price = req.EntryPrice
	}

	mo, err := p.deps.Executor.Place(ctx, place)
	if err != nil {
		// the position was committed by TryOpen but no order exists for it
		p.deps.Risk.DiscardPosition(req.Symbol)
		d.Outcome, d.Reason = OutcomeFailed, err.Error()
		p.log.Warn().Err(err).Str("symbol", req.Symbol).Str("side", string(side)).
			Float64("amount", d.Amount).Msg("entry failed, position discarded")
		p.publish(events.New(events.TypeOrderFailed, req.Symbol, d))
		if boterrors.IsCategory(err, boterrors.ErrorCategoryOrderPlacementFailed) {
			p.alert(notifications.LevelWarning, fmt.Sprintf("Entry for %s %s failed: %v", side, req.Symbol, err))
		}
		return d, err
	}

	d.Order = mo
	d.Outcome = OutcomeExecuted
	d.Reason = fmt.Sprintf("%s %.8g %s at %.8g, quality %s", side, d.Amount, req.Symbol, req.EntryPrice, q.Category)
	ev := events.New(events.TypeOrderPlaced, req.Symbol, mo)
	ev.OrderID = mo.ID
	p.publish(ev)
	p.log.Info().Str("symbol", req.Symbol).Str("order_id", mo.ID).Str("side", string(side)).
		Float64("amount", d.Amount).Float64("confidence", sig.Confidence).
		Str("protection", string(mo.Protection)).Msg("decision executed")
	return d, nil
}

func checkRequest(req Request) error {
	invalid := func(msg string) error {
		return boterrors.NewInvalidInputError(component, "evaluate", msg).WithContext("symbol", req.Symbol)
	}
	switch {
	case req.Symbol == "":
		return invalid("symbol is required")
	case !(req.EntryPrice > 0) || math.IsInf(req.EntryPrice, 0):
		return invalid(fmt.Sprintf("invalid entry price %v", req.EntryPrice))
	case req.StopLoss < 0 || req.TakeProfit < 0:
		return invalid("stop-loss and take-profit must not be negative")
	case len(req.Sources) == 0:
		return invalid("at least one source signal is required")
	}
	return nil
}

func displayDirection(sig *integrator.IntegratedSignal) string {
	if sig.Direction == "" {
		return "none"
	}
	return string(sig.Direction)
}

func (p *Pipeline) reject(d *Decision, check, reason string) (*Decision, error) {
	d.Outcome, d.Reason = OutcomeRejected, reason
	monitoring.RecordRiskDecision(false, check)
	p.log.Info().Str("symbol", d.Symbol).Str("check", check).Str("reason", reason).Msg("trade rejected")
	p.publish(events.New(events.TypeDecisionSkipped, d.Symbol, d))
	return d, boterrors.NewRiskRejectedError(component, "evaluate", reason).
		WithContext("check", check).WithContext("symbol", d.Symbol)
}

// ExitManual tags a trade closed through Close rather than by a protective leg
const ExitManual = "manual"

// Close cancels the symbol's working orders and the legs of its filled
// position, realizes the position at exitPrice and records the trade.
func (p *Pipeline) Close(ctx context.Context, symbol string, exitPrice float64) (float64, error) {
	cancelled := p.deps.Executor.CancelAll(ctx, symbol)
	released := p.deps.Executor.CloseLegs(ctx, symbol)

	pnl, err := p.realize(ctx, symbol, exitPrice, ExitManual)
	if err != nil {
		return 0, err
	}
	p.log.Info().Str("symbol", symbol).Float64("exit", exitPrice).Float64("pnl", pnl).
		Int("cancelled_orders", cancelled).Int("released_positions", released).Msg("position closed")
	return pnl, nil
}

// realize books the exit in the risk ledger, then persists and publishes the trade
func (p *Pipeline) realize(ctx context.Context, symbol string, exitPrice float64, reason string) (float64, error) {
	pos, open := p.position(symbol)
	pnl, err := p.deps.Risk.ClosePosition(symbol, exitPrice)
	if err != nil {
		return 0, err
	}
	if !open {
		return pnl, nil
	}

	rec := store.TradeRecord{
		Symbol:     symbol,
		Side:       string(pos.Side),
		Amount:     pos.Amount,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   p.deps.Now(),
	}
	if p.deps.Recorder != nil {
		if err := p.deps.Recorder.SaveTrade(ctx, rec); err != nil {
			p.log.Error().Err(err).Str("symbol", symbol).Msg("persist closed trade failed")
		}
	}
	p.publish(events.New(events.TypePositionClosed, symbol, rec))
	return pnl, nil
}

// MarkPrice marks the symbol's open position to price. With TrailStops set
// it also ratchets the stop-loss leg of a filled position that is in profit.
func (p *Pipeline) MarkPrice(ctx context.Context, symbol string, price float64) {
	if !(price > 0) {
		return
	}
	if m, ok := p.deps.Risk.(pnlMarker); ok {
		if _, err := m.UpdatePositionPnL(symbol, price); err == nil {
			p.log.Debug().Str("symbol", symbol).Float64("price", price).Msg("position marked")
		}
	}
	if !p.cfg.TrailStops {
		return
	}

	rcfg := p.deps.Risk.Config()
	for _, pos := range p.deps.Executor.Positions() {
		if pos.Symbol != symbol || pos.StopLoss <= 0 || pos.StopLossID == "" {
			continue
		}
		entry := pos.FillPrice
		if entry <= 0 {
			entry = pos.Price
		}
		long := pos.Side == types.SideBuy
		if long && price <= entry || !long && price >= entry {
			continue
		}
		stop := rcfg.TrailingStop(price, entry, pos.StopLoss, pos.Side)
		if long && stop <= pos.StopLoss || !long && stop >= pos.StopLoss {
			continue
		}
		if err := p.deps.Executor.ReplaceStopLoss(ctx, pos.ID, stop); err != nil {
			p.log.Warn().Err(err).Str("order_id", pos.ID).Str("symbol", symbol).
				Float64("stop_loss", stop).Msg("trailing stop not moved")
			continue
		}
		p.log.Info().Str("order_id", pos.ID).Str("symbol", symbol).Float64("price", price).
			Float64("from", pos.StopLoss).Float64("to", stop).Msg("trailing stop moved")
	}
}

type pnlMarker interface {
	UpdatePositionPnL(symbol string, price float64) (float64, error)
}

type positionLookup interface {
	Position(symbol string) (risk.Position, bool)
}

func (p *Pipeline) position(symbol string) (risk.Position, bool) {
	if pl, ok := p.deps.Risk.(positionLookup); ok {
		return pl.Position(symbol)
	}
	return risk.Position{}, false
}
