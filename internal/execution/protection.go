package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// stopLimitPrice offsets the limit past the trigger so a fast move still fills
func (e *Executor) stopLimitPrice(exitSide types.Side, stop float64) float64 {
	if exitSide == types.SideSell {
		return stop * (1 - e.cfg.StopSlippage)
	}
	return stop * (1 + e.cfg.StopSlippage)
}

func (e *Executor) placeStopLoss(ctx context.Context, symbol string, entrySide types.Side, amount, stop float64) (string, error) {
	exitSide := entrySide.Opposite()
	return e.placeLeg(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exitSide,
		Type:       types.OrderTypeStopLimit,
		Amount:     amount,
		StopPrice:  stop,
		Price:      e.stopLimitPrice(exitSide, stop),
		ReduceOnly: true,
	})
}

func (e *Executor) placeTakeProfit(ctx context.Context, symbol string, entrySide types.Side, amount, target float64) (string, error) {
	return e.placeLeg(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       entrySide.Opposite(),
		Type:       types.OrderTypeLimit,
		Amount:     amount,
		Price:      target,
		ReduceOnly: true,
	})
}

func (e *Executor) placeLeg(ctx context.Context, req exchange.OrderRequest) (string, error) {
	var ack *exchange.OrderAck
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		ack, err = e.gw.CreateOrder(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return ack.ID, nil
}

// recordLeg stores a leg outcome on the unit and reports failures. Only
// failures whose cause calls for a retry leave the leg to the monitor.
func (e *Executor) recordLeg(mo *ManagedOrder, leg, legID string, err error) {
	var action boterrors.RecoveryAction
	if err != nil {
		action = boterrors.CategorizeError(err, component, "place_"+leg).GetRecoveryAction()
	}

	e.mu.Lock()
	if err != nil {
		mo.retryLegs = action == boterrors.RecoveryActionRetry
	}
	switch leg {
	case LegStopLoss:
		mo.StopLossID = legID
	case LegTakeProfit:
		mo.TakeProfitID = legID
	}
	mo.setLegError(leg, err)
	mo.refreshProtection()
	mo.UpdatedAt = e.now()
	snap := mo.snapshot()
	e.mu.Unlock()

	if err == nil {
		e.log.Info().Str("order_id", mo.ID).Str("leg", leg).Str("leg_id", legID).Msg("protective leg placed")
		return
	}

	monitoring.RecordOrderFailure(leg)
	e.fail(boterrors.NewProtectiveLegError(component, "place_"+leg, err).
		WithContext("order_id", mo.ID).WithContext("symbol", mo.Symbol))
	e.log.Error().Err(err).Str("order_id", mo.ID).Str("symbol", mo.Symbol).Str("leg", leg).
		Str("protection", string(snap.Protection)).Str("recovery", string(action)).
		Msg("protective leg failed, entry left live")
	e.legFailed(snap, leg, err)
}

// ReplaceStopLoss cancels the current stop leg and places a new one at stop.
// It works on pending entries and on filled positions. If the new leg fails
// the unit is left without a stop.
func (e *Executor) ReplaceStopLoss(ctx context.Context, id string, stop float64) error {
	if !(stop > 0) {
		return e.fail(boterrors.NewInvalidInputError(component, "replace_stop_loss",
			fmt.Sprintf("invalid stop %v", stop)).WithContext("order_id", id))
	}
	mo, err := e.claimUnit(id, "replace_stop_loss")
	if err != nil {
		return err
	}
	defer e.release(id)

	e.mu.Lock()
	symbol, side, amount, oldID := mo.Symbol, mo.Side, mo.Amount, mo.StopLossID
	e.mu.Unlock()

	if oldID != "" {
		err := e.call(ctx, func(ctx context.Context) error { return e.gw.CancelOrder(ctx, symbol, oldID) })
		if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			monitoring.RecordOrderFailure("cancel")
			return e.fail(boterrors.NewExchangeTransientError(component, "replace_stop_loss", err).
				WithContext("order_id", id))
		}
		e.mu.Lock()
		mo.StopLossID = ""
		mo.refreshProtection()
		e.mu.Unlock()
	}

	e.mu.Lock()
	mo.StopLoss = stop
	e.mu.Unlock()

	newID, err := e.placeStopLoss(ctx, symbol, side, amount, stop)
	e.recordLeg(mo, LegStopLoss, newID, err)
	if err != nil {
		return boterrors.NewProtectiveLegError(component, "replace_stop_loss", err).WithContext("order_id", id)
	}
	e.log.Info().Str("order_id", id).Float64("stop_loss", stop).Str("leg_id", newID).Msg("stop-loss replaced")
	return nil
}

// RetryProtection places any requested leg that is missing from the book.
// The returned error is ProtectiveLegFailed while a leg is still missing.
func (e *Executor) RetryProtection(ctx context.Context, id string) (*ManagedOrder, error) {
	mo, err := e.claimUnit(id, "retry_protection")
	if err != nil {
		return nil, err
	}
	defer e.release(id)

	e.mu.Lock()
	mo.LegRetries++
	symbol, side, amount := mo.Symbol, mo.Side, mo.Amount
	stop, target := mo.StopLoss, mo.TakeProfit
	missing := mo.MissingLegs()
	e.mu.Unlock()

	for _, leg := range missing {
		var legID string
		var err error
		if leg == LegStopLoss {
			legID, err = e.placeStopLoss(ctx, symbol, side, amount, stop)
		} else {
			legID, err = e.placeTakeProfit(ctx, symbol, side, amount, target)
		}
		e.recordLeg(mo, leg, legID, err)
	}

	e.mu.Lock()
	snap := mo.snapshot()
	still := mo.MissingLegs()
	e.publishActiveLocked()
	e.mu.Unlock()

	if len(still) > 0 {
		return &snap, boterrors.NewBotError(boterrors.ErrorCategoryProtectiveLegFailed, component, "retry_protection",
			"legs still missing: "+strings.Join(still, ", ")).WithContext("order_id", id)
	}
	return &snap, nil
}
