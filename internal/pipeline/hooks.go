package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/internal/events"
	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/notifications"
)

// onOrderComplete releases the risk budget of an entry that ended without a
// fill, then persists and publishes the unit.
func (p *Pipeline) onOrderComplete(mo execution.ManagedOrder) {
	if mo.Unfilled() && p.deps.Risk.DiscardPosition(mo.Symbol) {
		p.log.Info().Str("order_id", mo.ID).Str("symbol", mo.Symbol).Str("status", string(mo.Status)).
			Msg("unfilled entry, position released")
	}

	ctx, cancel := p.hookContext()
	defer cancel()
	p.saveOrder(ctx, mo)

	ev := events.New(events.TypeOrderCompleted, mo.Symbol, mo)
	ev.OrderID = mo.ID
	ev.Message = string(mo.Status)
	p.publish(ev)
}

// onPositionExit realizes a filled position once its stop-loss or
// take-profit leg has filled on the exchange.
func (p *Pipeline) onPositionExit(mo execution.ManagedOrder) {
	ctx, cancel := p.hookContext()
	defer cancel()
	p.saveOrder(ctx, mo)

	pnl, err := p.realize(ctx, mo.Symbol, mo.ExitPrice, mo.ExitLeg)
	if err != nil {
		p.log.Warn().Err(err).Str("order_id", mo.ID).Str("symbol", mo.Symbol).Str("exit_leg", mo.ExitLeg).
			Msg("exit fill has no open position")
		return
	}
	level := notifications.LevelSuccess
	if pnl < 0 {
		level = notifications.LevelWarning
	}
	p.alert(level, fmt.Sprintf("%s %s closed by %s at %.8g, P&L %.2f",
		mo.Side, mo.Symbol, mo.ExitLeg, mo.ExitPrice, pnl))
}

func (p *Pipeline) hookContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(p.cfg.HookTimeoutSeconds*float64(time.Second)))
}

func (p *Pipeline) saveOrder(ctx context.Context, mo execution.ManagedOrder) {
	if p.deps.Recorder == nil {
		return
	}
	if err := p.deps.Recorder.SaveOrder(ctx, mo); err != nil {
		p.log.Error().Err(err).Str("order_id", mo.ID).Msg("persist order failed")
	}
}

// onLegFailure flags a naked or half-protected entry to the operator
func (p *Pipeline) onLegFailure(mo execution.ManagedOrder, leg string, err error) {
	ev := events.New(events.TypeLegFailed, mo.Symbol, mo)
	ev.OrderID = mo.ID
	ev.Message = fmt.Sprintf("%s: %v", leg, err)
	p.publish(ev)

	level := notifications.LevelWarning
	if mo.Protection.Naked() {
		level = notifications.LevelError
	}
	p.alert(level, fmt.Sprintf("%s leg failed for %s %s (order %s, now %s): %v",
		leg, mo.Side, mo.Symbol, mo.ID, mo.Protection, err))
}

func (p *Pipeline) publish(ev events.Event) {
	if err := p.deps.Events.Publish(ev); err != nil {
		p.log.Warn().Err(err).Str("type", ev.Type).Str("symbol", ev.Symbol).Msg("event not published")
	}
}

func (p *Pipeline) alert(level, message string) {
	if err := p.deps.Notifier.SendAlert(level, message); err != nil {
		p.log.Warn().Err(err).Str("level", level).Msg("alert not delivered")
	}
}
