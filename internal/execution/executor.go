package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/internal/safety"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

const component = "executor"

type Option func(*Executor)

// WithClock replaces time.Now for order timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithIDGenerator replaces uuid generation for managed order ids
func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) { e.newID = newID }
}

// WithHealth reports poll outcomes to the health checker
func WithHealth(h *monitoring.HealthChecker) Option {
	return func(e *Executor) { e.health = h }
}

// Executor places entry orders with their protective legs and tracks each
// unit until the exchange reports a terminal status. A filled entry is then
// followed in open until one of its legs fills or the position is closed.
// Exchange I/O never runs under mu; a unit being worked on is marked busy
// instead.
type Executor struct {
	gw      exchange.Gateway
	cfg     Config
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
	limiter *safety.RateLimiter
	breaker *safety.CircuitBreaker
	pool    *ants.Pool
	health  *monitoring.HealthChecker
	errs    *boterrors.ErrorStats

	hooksMu      sync.RWMutex
	onComplete   []func(ManagedOrder)
	onLegFailure []func(ManagedOrder, string, error)
	onExit       []func(ManagedOrder)

	mu      sync.Mutex
	active  map[string]*ManagedOrder
	open    map[string]*ManagedOrder
	busy    map[string]bool
	history []*ManagedOrder
}

func NewExecutor(gw exchange.Gateway, cfg Config, opts ...Option) (*Executor, error) {
	if gw == nil {
		return nil, boterrors.NewConfigurationError(component, "new", "exchange gateway is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, boterrors.NewConfigurationError(component, "new", err.Error())
	}
	pool, err := ants.NewPool(cfg.PollWorkers)
	if err != nil {
		return nil, boterrors.WrapError(err, boterrors.ErrorCategoryFatal, component, "new")
	}

	e := &Executor{
		gw:      gw,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.Component(component),
		limiter: safety.NewRateLimiter("exchange", cfg.RequestBurst, cfg.RequestsPerSecond),
		pool:    pool,
		errs:    boterrors.NewErrorStats(100),
		active:  make(map[string]*ManagedOrder),
		open:    make(map[string]*ManagedOrder),
		busy:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.breaker = safety.NewCircuitBreaker("entry_orders", safety.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          seconds(cfg.BreakerCooldownSeconds),
		IsFailure:        countsAgainstBreaker,
	})
	e.breaker.SetStateChangeCallback(func(name string, from, to safety.CircuitBreakerState) {
		e.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
			Msg("circuit breaker state changed")
	})
	return e, nil
}

// countsAgainstBreaker ignores business rejections such as a bad size or balance
func countsAgainstBreaker(err error) bool {
	var exErr *exchange.ExchangeError
	if errors.As(err, &exErr) {
		return exErr.IsRetryable
	}
	return true
}

// Close releases the polling worker pool
func (e *Executor) Close() {
	e.pool.Release()
}

// AddCompletionHook registers fn to receive every unit moved to history
func (e *Executor) AddCompletionHook(fn func(ManagedOrder)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onComplete = append(e.onComplete, fn)
}

// AddLegFailureHook registers fn to receive protective leg failures
func (e *Executor) AddLegFailureHook(fn func(ManagedOrder, string, error)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onLegFailure = append(e.onLegFailure, fn)
}

// AddExitHook registers fn to receive a filled entry whose stop-loss or
// take-profit leg filled. ExitLeg and ExitPrice are set on the unit.
func (e *Executor) AddExitHook(fn func(ManagedOrder)) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.onExit = append(e.onExit, fn)
}

// ErrorStats exposes the executor's recent error tracker
func (e *Executor) ErrorStats() *boterrors.ErrorStats {
	return e.errs
}

// Place validates the balance, places the entry order, registers it and then
// places the stop-loss and take-profit legs. A leg that fails to place is
// logged and left empty; the entry stays live and the unit is returned
// without error. Nothing is recorded when the entry itself fails.
func (e *Executor) Place(ctx context.Context, req PlaceRequest) (*ManagedOrder, error) {
	if err := checkRequest(req); err != nil {
		return nil, e.fail(err)
	}
	if e.cfg.ValidateBalance || req.ValidateBalance {
		if err := e.checkBalance(ctx, req); err != nil {
			return nil, e.fail(err)
		}
	}

	id := e.newID()
	var ack *exchange.OrderAck
	err := e.breaker.Call(func() error {
		return e.call(ctx, func(ctx context.Context) error {
			var err error
			ack, err = e.gw.CreateOrder(ctx, exchange.OrderRequest{
				Symbol:   req.Symbol,
				Side:     req.Side,
				Type:     req.Type,
				Amount:   req.Amount,
				Price:    req.Price,
				ClientID: id,
			})
			return err
		})
	})
	if err != nil {
		monitoring.RecordOrderFailure(LegEntry)
		e.log.Error().Err(err).Str("symbol", req.Symbol).Str("side", string(req.Side)).
			Float64("amount", req.Amount).Msg("entry order failed")
		return nil, e.fail(boterrors.NewOrderPlacementError(component, "place", err).
			WithContext("symbol", req.Symbol))
	}

	now := e.now()
	status := ack.Status
	if status == "" {
		status = types.OrderStatusOpen
	}
	mo := &ManagedOrder{
		ID:         id,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Amount:     req.Amount,
		Price:      req.entryPrice(),
		EntryID:    ack.ID,
		Status:     status,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	mo.refreshProtection()

	e.mu.Lock()
	e.active[id] = mo
	e.busy[id] = true
	e.publishActiveLocked()
	e.mu.Unlock()

	monitoring.RecordOrderPlaced(req.Symbol, string(req.Side), req.Amount)
	logger.Trade().Str("order_id", id).Str("entry_id", ack.ID).Str("symbol", req.Symbol).
		Str("side", string(req.Side)).Str("type", string(req.Type)).Float64("amount", req.Amount).
		Float64("stop_loss", req.StopLoss).Float64("take_profit", req.TakeProfit).Msg("entry order placed")

	if req.StopLoss > 0 {
		legID, err := e.placeStopLoss(ctx, mo.Symbol, mo.Side, mo.Amount, req.StopLoss)
		e.recordLeg(mo, LegStopLoss, legID, err)
	}
	if req.TakeProfit > 0 {
		legID, err := e.placeTakeProfit(ctx, mo.Symbol, mo.Side, mo.Amount, req.TakeProfit)
		e.recordLeg(mo, LegTakeProfit, legID, err)
	}

	e.mu.Lock()
	delete(e.busy, id)
	snap := mo.snapshot()
	e.publishActiveLocked()
	e.mu.Unlock()
	return &snap, nil
}

func checkRequest(req PlaceRequest) error {
	invalid := func(msg string) error {
		return boterrors.NewInvalidInputError(component, "place", msg).WithContext("symbol", req.Symbol)
	}
	switch {
	case req.Symbol == "":
		return invalid("symbol is required")
	case !req.Side.Valid():
		return invalid(fmt.Sprintf("invalid side %q", req.Side))
	case !(req.Amount > 0) || math.IsInf(req.Amount, 0):
		return invalid(fmt.Sprintf("invalid amount %v", req.Amount))
	case req.StopLoss < 0 || req.TakeProfit < 0:
		return invalid("stop-loss and take-profit must not be negative")
	}
	switch req.Type {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if req.Price <= 0 {
			return invalid("limit order needs a price")
		}
	default:
		return invalid(fmt.Sprintf("unsupported entry type %q", req.Type))
	}

	ref := req.entryPrice()
	if ref <= 0 {
		return nil
	}
	long := req.Side == types.SideBuy
	if req.StopLoss > 0 && (long && req.StopLoss >= ref || !long && req.StopLoss <= ref) {
		return invalid(fmt.Sprintf("stop-loss %v is on the wrong side of %v", req.StopLoss, ref))
	}
	if req.TakeProfit > 0 && (long && req.TakeProfit <= ref || !long && req.TakeProfit >= ref) {
		return invalid(fmt.Sprintf("take-profit %v is on the wrong side of %v", req.TakeProfit, ref))
	}
	return nil
}

// checkBalance fetches the spendable balance once; buys spend quote, sells spend base
func (e *Executor) checkBalance(ctx context.Context, req PlaceRequest) error {
	base, quote, ok := types.SplitSymbol(req.Symbol)
	if !ok {
		return boterrors.NewInvalidInputError(component, "check_balance",
			fmt.Sprintf("symbol %q is not a BASE/QUOTE pair", req.Symbol))
	}

	currency, need := base, req.Amount
	if req.Side == types.SideBuy {
		price := req.entryPrice()
		if price <= 0 {
			return boterrors.NewInvalidInputError(component, "check_balance",
				"a market buy needs a reference price for the balance check")
		}
		currency, need = quote, req.Amount*price
	}

	var available float64
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		available, err = e.gw.FetchBalance(ctx, currency)
		return err
	})
	if err != nil {
		return boterrors.NewExchangeTransientError(component, "check_balance", err).WithContext("currency", currency)
	}
	if available < need {
		e.log.Info().Str("symbol", req.Symbol).Str("currency", currency).
			Float64("available", available).Float64("required", need).Msg("insufficient balance")
		return boterrors.NewBalanceInsufficientError(component, "check_balance",
			fmt.Sprintf("insufficient %s: available %.8f, required %.8f", currency, available, need)).
			WithContext("currency", currency)
	}
	return nil
}

// call throttles and bounds one exchange request
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout())
	defer cancel()
	return fn(callCtx)
}

func (e *Executor) fail(err error) error {
	var botErr *boterrors.BotError
	if errors.As(err, &botErr) {
		e.errs.RecordError(botErr)
		monitoring.RecordError(string(botErr.Category))
	}
	return err
}

// claim marks an active unit busy so no other operation or poll touches it
func (e *Executor) claim(id, operation string) (*ManagedOrder, error) {
	return e.claimFrom(id, operation, e.active)
}

// claimUnit is claim for units that may also be filled and followed in open
func (e *Executor) claimUnit(id, operation string) (*ManagedOrder, error) {
	return e.claimFrom(id, operation, e.active, e.open)
}

func (e *Executor) claimFrom(id, operation string, sets ...map[string]*ManagedOrder) (*ManagedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var mo *ManagedOrder
	for _, set := range sets {
		if mo = set[id]; mo != nil {
			break
		}
	}
	if mo == nil {
		return nil, boterrors.NewInvalidInputError(component, operation, "unknown or completed order").
			WithContext("order_id", id)
	}
	if e.busy[id] {
		return nil, boterrors.NewBotError(boterrors.ErrorCategoryExchangeTransient, component, operation,
			"order has an operation in flight").WithContext("order_id", id)
	}
	e.busy[id] = true
	return mo, nil
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	delete(e.busy, id)
	e.mu.Unlock()
}

// Cancel cancels the entry, then best-effort cancels the recorded legs, and
// moves the unit to history whatever the leg outcomes. An entry that has
// already finished on the exchange is not cancelled again.
func (e *Executor) Cancel(ctx context.Context, id string) (bool, error) {
	mo, err := e.claim(id, "cancel")
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	symbol, entryID, entryDone := mo.Symbol, mo.EntryID, mo.Status.IsTerminal()
	legs := map[string]string{LegStopLoss: mo.StopLossID, LegTakeProfit: mo.TakeProfitID}
	e.mu.Unlock()

	if !entryDone {
		err := e.call(ctx, func(ctx context.Context) error { return e.gw.CancelOrder(ctx, symbol, entryID) })
		if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) && !e.entryEnded(ctx, mo) {
			e.release(id)
			monitoring.RecordOrderFailure("cancel")
			e.log.Warn().Err(err).Str("order_id", id).Str("entry_id", entryID).Msg("entry cancel failed")
			return false, e.fail(boterrors.NewExchangeTransientError(component, "cancel", err).WithContext("order_id", id))
		}
	}

	for leg, legID := range legs {
		if legID == "" {
			continue
		}
		if err := e.call(ctx, func(ctx context.Context) error { return e.gw.CancelOrder(ctx, symbol, legID) }); err != nil {
			monitoring.RecordOrderFailure("cancel")
			e.log.Warn().Err(err).Str("order_id", id).Str("leg", leg).Str("leg_id", legID).Msg("leg cancel failed")
		}
	}

	e.mu.Lock()
	if !mo.Status.IsTerminal() {
		mo.Status = types.OrderStatusCancelled
	}
	snap := e.completeLocked(mo)
	delete(e.busy, id)
	e.mu.Unlock()

	e.log.Info().Str("order_id", id).Str("symbol", symbol).Str("status", string(snap.Status)).Msg("order cancelled")
	e.finish(snap)
	return true, nil
}

// entryEnded refreshes mo from the exchange after a refused entry cancel and
// reports whether the entry had already reached a terminal status.
func (e *Executor) entryEnded(ctx context.Context, mo *ManagedOrder) bool {
	e.mu.Lock()
	symbol, entryID := mo.Symbol, mo.EntryID
	e.mu.Unlock()

	state, err := e.fetch(ctx, symbol, entryID)
	if err != nil || !state.Status.IsTerminal() {
		return false
	}
	e.mu.Lock()
	mo.Status = state.Status
	mo.FilledAmount = state.FilledAmount
	if state.FillPrice > 0 {
		mo.FillPrice = state.FillPrice
	}
	e.mu.Unlock()
	return true
}

// CancelAll cancels every active unit for symbol, or all units when symbol is empty
func (e *Executor) CancelAll(ctx context.Context, symbol string) int {
	cancelled := 0
	for _, mo := range e.Active() {
		if symbol != "" && mo.Symbol != symbol {
			continue
		}
		if ok, _ := e.Cancel(ctx, mo.ID); ok {
			cancelled++
		}
	}
	e.log.Info().Str("symbol", symbol).Int("cancelled", cancelled).Msg("cancel all finished")
	return cancelled
}

// completeLocked stamps completion and moves mo from active to history
func (e *Executor) completeLocked(mo *ManagedOrder) ManagedOrder {
	now := e.now()
	mo.CompletedAt = now
	mo.UpdatedAt = now
	delete(e.active, mo.ID)
	e.history = append(e.history, mo)
	if over := len(e.history) - e.cfg.HistorySize; over > 0 {
		e.history = e.history[over:]
	}
	e.publishActiveLocked()
	monitoring.RecordOrderCompleted(string(mo.Status))
	return mo.snapshot()
}

func (e *Executor) finish(snap ManagedOrder) {
	e.hooksMu.RLock()
	hooks := e.onComplete
	e.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(snap)
	}
}

func (e *Executor) publishActiveLocked() {
	counts := map[string]int{
		string(EntryOnly):       0,
		string(EntryWithStop):   0,
		string(EntryWithTarget): 0,
		string(FullyProtected):  0,
	}
	for _, mo := range e.active {
		counts[string(mo.Protection)]++
	}
	monitoring.SetActiveOrders(counts)
}

// Active returns snapshots of the active units, oldest first
func (e *Executor) Active() []ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ManagedOrder, 0, len(e.active))
	for _, mo := range e.active {
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

// History returns completed units in completion order
func (e *Executor) History() []ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ManagedOrder, len(e.history))
	for i, mo := range e.history {
		out[i] = mo.snapshot()
	}
	return out
}

// Get looks a unit up in the active set, then among open positions, then in history
func (e *Executor) Get(id string) (ManagedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mo, ok := e.active[id]; ok {
		return mo.snapshot(), true
	}
	if mo, ok := e.open[id]; ok {
		return mo.snapshot(), true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i].snapshot(), true
		}
	}
	return ManagedOrder{}, false
}
