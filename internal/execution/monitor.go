package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Monitor polls active units every poll interval until ctx is cancelled.
// It is the only path that retires units because of exchange-side changes.
func (e *Executor) Monitor(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	e.log.Info().Dur("interval", e.cfg.PollInterval()).Msg("order monitor started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("order monitor stopped")
			return nil
		case <-ticker.C:
			e.PollOnce(ctx)
		}
	}
}

// PollOnce runs one monitor cycle on the worker pool: entry status of every
// idle active unit, leg status of every followed position, then another
// attempt at legs that failed to place. A failed fetch is logged and skipped
// until the next cycle.
func (e *Executor) PollOnce(ctx context.Context) {
	e.mu.Lock()
	entries := e.idleLocked(e.active)
	positions := e.idleLocked(e.open)
	e.mu.Unlock()

	failed := e.fanOut(ctx, entries, e.pollOne)
	failed += e.fanOut(ctx, positions, e.pollExit)

	e.mu.Lock()
	var unprotected []ManagedOrder
	for _, set := range []map[string]*ManagedOrder{e.active, e.open} {
		for id, mo := range set {
			if !e.busy[id] && e.shouldReprotectLocked(mo) {
				unprotected = append(unprotected, mo.snapshot())
			}
		}
	}
	e.mu.Unlock()
	e.fanOut(ctx, unprotected, e.reprotect)

	if e.health != nil {
		e.health.MarkPoll(e.now(), failed == 0)
	}
}

func (e *Executor) idleLocked(set map[string]*ManagedOrder) []ManagedOrder {
	out := make([]ManagedOrder, 0, len(set))
	for id, mo := range set {
		if !e.busy[id] {
			out = append(out, mo.snapshot())
		}
	}
	return out
}

// fanOut runs fn for every target on the pool and returns how many failed
func (e *Executor) fanOut(ctx context.Context, targets []ManagedOrder, fn func(context.Context, ManagedOrder) bool) int {
	var wg sync.WaitGroup
	var failed atomic.Int32
	for _, t := range targets {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if !fn(ctx, t) {
				failed.Add(1)
			}
		}
		if err := e.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return int(failed.Load())
}

func (e *Executor) fetch(ctx context.Context, symbol, orderID string) (*exchange.OrderState, error) {
	var state *exchange.OrderState
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		state, err = e.gw.FetchOrder(ctx, symbol, orderID)
		return err
	})
	return state, err
}

func (e *Executor) pollFailed(target ManagedOrder, orderID string, err error) {
	monitoring.RecordOrderFailure("poll")
	e.fail(boterrors.NewExchangeTransientError(component, "poll", err).WithContext("order_id", target.ID))
	if e.health != nil {
		e.health.RecordError("poll " + target.ID + ": " + err.Error())
	}
	e.log.Warn().Err(err).Str("order_id", target.ID).Str("exchange_id", orderID).
		Str("symbol", target.Symbol).Msg("order status poll failed")
}

func (e *Executor) pollOne(ctx context.Context, target ManagedOrder) bool {
	state, err := e.fetch(ctx, target.Symbol, target.EntryID)
	if err != nil {
		e.pollFailed(target, target.EntryID, err)
		return false
	}

	e.mu.Lock()
	mo, ok := e.active[target.ID]
	if !ok || e.busy[target.ID] {
		e.mu.Unlock()
		return true
	}
	if mo.Status != state.Status || mo.FilledAmount != state.FilledAmount {
		mo.Status = state.Status
		mo.FilledAmount = state.FilledAmount
		mo.UpdatedAt = e.now()
	}
	if state.FillPrice > 0 {
		mo.FillPrice = state.FillPrice
	}
	if !state.Status.IsTerminal() {
		e.mu.Unlock()
		return true
	}
	snap := e.completeLocked(mo)
	following := e.followLocked(mo)
	e.mu.Unlock()

	if snap.Unfilled() {
		// nothing to protect; the reduce-only legs must not stay on the book
		for _, leg := range snap.legRefs() {
			if leg.id != "" {
				e.cancelLeg(ctx, snap, leg)
			}
		}
	}

	e.log.Info().Str("order_id", snap.ID).Str("symbol", snap.Symbol).Str("status", string(snap.Status)).
		Float64("filled", snap.FilledAmount).Float64("fill_price", snap.FillPrice).
		Bool("following_legs", following).Msg("order completed")
	e.finish(snap)
	return true
}

// followLocked starts following the legs of a filled entry in open. It
// reports whether the unit is now followed.
func (e *Executor) followLocked(mo *ManagedOrder) bool {
	if !mo.Entered() || !e.hasProtectionLocked(mo) {
		return false
	}
	pos := mo.snapshot()
	e.open[pos.ID] = &pos
	return true
}

// hasProtectionLocked reports a leg on the book or one the monitor will retry
func (e *Executor) hasProtectionLocked(mo *ManagedOrder) bool {
	return mo.StopLossID != "" || mo.TakeProfitID != "" || e.shouldReprotectLocked(mo)
}

func (e *Executor) shouldReprotectLocked(mo *ManagedOrder) bool {
	return mo.retryLegs && mo.LegRetries < e.cfg.ProtectionRetries && len(mo.MissingLegs()) > 0
}

type legRef struct {
	name  string
	id    string
	level float64
}

func (o *ManagedOrder) legRefs() []legRef {
	return []legRef{
		{LegStopLoss, o.StopLossID, o.StopLoss},
		{LegTakeProfit, o.TakeProfitID, o.TakeProfit},
	}
}

// pollExit checks the legs of a followed position. When one leg has filled
// the other is cancelled, the position leaves open and the exit hooks run.
// A leg that ended without a fill is dropped and reported as a leg failure.
func (e *Executor) pollExit(ctx context.Context, target ManagedOrder) bool {
	var exit legRef
	var exitPrice float64
	var ended []legRef
	for _, leg := range target.legRefs() {
		if leg.id == "" {
			continue
		}
		state, err := e.fetch(ctx, target.Symbol, leg.id)
		if err != nil {
			e.pollFailed(target, leg.id, err)
			return false
		}
		if state.Status == types.OrderStatusFilled || (state.Status.IsTerminal() && state.FilledAmount > 0) {
			exit, exitPrice = leg, state.FillPrice
			if exitPrice <= 0 {
				exitPrice = leg.level
			}
			break
		}
		if state.Status.IsTerminal() {
			ended = append(ended, leg)
		}
	}

	e.mu.Lock()
	mo, ok := e.open[target.ID]
	if !ok || e.busy[target.ID] {
		e.mu.Unlock()
		return true
	}
	if exit.id == "" {
		snap := e.dropEndedLegsLocked(mo, ended)
		e.mu.Unlock()
		for _, leg := range ended {
			err := fmt.Errorf("%s leg %s ended without a fill", leg.name, leg.id)
			e.log.Warn().Str("order_id", snap.ID).Str("symbol", snap.Symbol).Str("leg", leg.name).
				Str("protection", string(snap.Protection)).Msg("protective leg gone from the book")
			e.legFailed(snap, leg.name, err)
		}
		return true
	}

	e.busy[target.ID] = true
	mo.ExitLeg, mo.ExitPrice = exit.name, exitPrice
	var sibling legRef
	for _, leg := range mo.legRefs() {
		if leg.name != exit.name && leg.id != "" {
			sibling = leg
		}
	}
	e.mu.Unlock()

	if sibling.id != "" {
		e.cancelLeg(ctx, target, sibling)
	}

	e.mu.Lock()
	mo.UpdatedAt = e.now()
	delete(e.open, target.ID)
	delete(e.busy, target.ID)
	snap := mo.snapshot()
	e.mu.Unlock()

	e.log.Info().Str("order_id", snap.ID).Str("symbol", snap.Symbol).Str("exit_leg", snap.ExitLeg).
		Float64("exit_price", snap.ExitPrice).Str("cancelled_leg", sibling.name).Msg("position exited")
	e.exited(snap)
	return true
}

func (e *Executor) dropEndedLegsLocked(mo *ManagedOrder, ended []legRef) ManagedOrder {
	for _, leg := range ended {
		switch {
		case leg.name == LegStopLoss && mo.StopLossID == leg.id:
			mo.StopLossID = ""
		case leg.name == LegTakeProfit && mo.TakeProfitID == leg.id:
			mo.TakeProfitID = ""
		}
	}
	if len(ended) > 0 {
		mo.refreshProtection()
		mo.UpdatedAt = e.now()
	}
	if !e.hasProtectionLocked(mo) {
		delete(e.open, mo.ID)
	}
	return mo.snapshot()
}

// cancelLeg cancels one leg best-effort; a leg already off the book is fine
func (e *Executor) cancelLeg(ctx context.Context, target ManagedOrder, leg legRef) {
	err := e.call(ctx, func(ctx context.Context) error { return e.gw.CancelOrder(ctx, target.Symbol, leg.id) })
	if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
		monitoring.RecordOrderFailure("cancel")
		e.log.Warn().Err(err).Str("order_id", target.ID).Str("leg", leg.name).Str("leg_id", leg.id).
			Msg("leg cancel failed")
	}
}

func (e *Executor) legFailed(snap ManagedOrder, leg string, err error) {
	e.hooksMu.RLock()
	hooks := e.onLegFailure
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(snap, leg, err)
	}
}

func (e *Executor) exited(snap ManagedOrder) {
	e.hooksMu.RLock()
	hooks := e.onExit
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(snap)
	}
}

// reprotect is the monitor's retry of legs that failed to place
func (e *Executor) reprotect(ctx context.Context, target ManagedOrder) bool {
	mo, err := e.RetryProtection(ctx, target.ID)
	if err == nil {
		e.log.Info().Str("order_id", target.ID).Str("symbol", target.Symbol).
			Str("protection", string(mo.Protection)).Msg("protection restored")
		return true
	}

	attempts := target.LegRetries + 1
	if mo != nil {
		attempts = mo.LegRetries
	}
	ev := e.log.Warn()
	if attempts >= e.cfg.ProtectionRetries {
		ev = e.log.Error()
	}
	ev.Err(err).Str("order_id", target.ID).Str("symbol", target.Symbol).
		Int("attempt", attempts).Int("max_attempts", e.cfg.ProtectionRetries).Msg("protection retry failed")
	return false
}

// CloseLegs cancels the legs of every followed position for symbol and stops
// following them. It returns the number of positions released.
func (e *Executor) CloseLegs(ctx context.Context, symbol string) int {
	e.mu.Lock()
	var ids []string
	for id, mo := range e.open {
		if mo.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	released := 0
	for _, id := range ids {
		mo, err := e.claimUnit(id, "close_legs")
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", id).Msg("position legs not released")
			continue
		}
		e.mu.Lock()
		target := mo.snapshot()
		e.mu.Unlock()

		for _, leg := range target.legRefs() {
			if leg.id != "" {
				e.cancelLeg(ctx, target, leg)
			}
		}

		e.mu.Lock()
		mo.StopLossID, mo.TakeProfitID = "", ""
		mo.refreshProtection()
		mo.UpdatedAt = e.now()
		delete(e.open, id)
		delete(e.busy, id)
		e.mu.Unlock()
		released++
	}
	if released > 0 {
		e.log.Info().Str("symbol", symbol).Int("released", released).Msg("position legs cancelled")
	}
	return released
}

// Positions returns snapshots of the filled entries whose legs are followed, oldest first
func (e *Executor) Positions() []ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ManagedOrder, 0, len(e.open))
	for _, mo := range e.open {
		out = append(out, mo.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
