package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange/paper"
	"github.com/ducminhle1904/crypto-signal-bot/internal/monitoring"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	balances   map[string]float64
	balanceErr error
	createErr  map[types.OrderType]error
	blockOn    map[types.OrderType]bool
	created    []exchange.OrderRequest
	cancelled  []string
	cancelErr  map[string]error
	states     map[string]*exchange.OrderState
	fetchErr   map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances:  map[string]float64{"USDT": 10000, "BTC": 1},
		createErr: make(map[types.OrderType]error),
		blockOn:   make(map[types.OrderType]bool),
		cancelErr: make(map[string]error),
		states:    make(map[string]*exchange.OrderState),
		fetchErr:  make(map[string]error),
	}
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) FetchBalance(_ context.Context, currency string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balances[currency], nil
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	f.mu.Lock()
	block := f.blockOn[req.Type]
	err := f.createErr[req.Type]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("ex-%d", f.seq)
	f.created = append(f.created, req)
	f.states[id] = &exchange.OrderState{ID: id, Symbol: req.Symbol, Status: types.OrderStatusOpen}
	return &exchange.OrderAck{ID: id, ClientID: req.ClientID, Status: types.OrderStatusOpen}, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[orderID]; err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, orderID)
	if st, ok := f.states[orderID]; ok {
		st.Status = types.OrderStatusCancelled
	}
	return nil
}

func (f *fakeGateway) FetchOrder(_ context.Context, _, orderID string) (*exchange.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[orderID]; err != nil {
		return nil, err
	}
	st, ok := f.states[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeGateway) createdOrders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.created...)
}

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ValidateBalance = false
	cfg.RequestsPerSecond = 0
	cfg.PollWorkers = 4
	return cfg
}

func newTestExecutor(t *testing.T, gw exchange.Gateway, opts ...Option) *Executor {
	return newTestExecutorWithConfig(t, gw, testConfig(), opts...)
}

func newTestExecutorWithConfig(t *testing.T, gw exchange.Gateway, cfg Config, opts ...Option) *Executor {
	t.Helper()
	n := 0
	var idMu sync.Mutex
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("mo-%d", n)
		}),
	}
	e, err := NewExecutor(gw, cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func longBTC() PlaceRequest {
	return PlaceRequest{
		Symbol:         "BTC/USDT",
		Side:           types.SideBuy,
		Type:           types.OrderTypeMarket,
		Amount:         16,
		ReferencePrice: 100,
		StopLoss:       95,
		TakeProfit:     110,
	}
}

func TestPlaceFullyProtected(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(context.Background(), longBTC())
	require.NoError(t, err)
	assert.Equal(t, "mo-1", mo.ID)
	assert.Equal(t, "ex-1", mo.EntryID)
	assert.Equal(t, "ex-2", mo.StopLossID)
	assert.Equal(t, "ex-3", mo.TakeProfitID)
	assert.Equal(t, FullyProtected, mo.Protection)
	assert.False(t, mo.Protection.Naked())
	assert.Equal(t, types.OrderStatusOpen, mo.Status)

	created := gw.createdOrders()
	require.Len(t, created, 3)
	assert.Equal(t, "mo-1", created[0].ClientID)

	stop := created[1]
	assert.Equal(t, types.SideSell, stop.Side)
	assert.Equal(t, types.OrderTypeStopLimit, stop.Type)
	assert.Equal(t, 95.0, stop.StopPrice)
	assert.InDelta(t, 94.525, stop.Price, 1e-9)
	assert.True(t, stop.ReduceOnly)

	target := created[2]
	assert.Equal(t, types.SideSell, target.Side)
	assert.Equal(t, types.OrderTypeLimit, target.Type)
	assert.Equal(t, 110.0, target.Price)

	require.Len(t, e.Active(), 1)
}

func TestShortStopLimitOffsetsUpward(t *testing.T) {
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	req := PlaceRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit, Amount: 1, Price: 100, StopLoss: 105}
	_, err := e.Place(context.Background(), req)
	require.NoError(t, err)

	created := gw.createdOrders()
	require.Len(t, created, 2)
	assert.Equal(t, types.SideBuy, created[1].Side)
	assert.InDelta(t, 105.525, created[1].Price, 1e-9)
}

func TestPlaceStopLegFailureKeepsEntryLive(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeStopLimit] = exchange.ErrConnectionFailed

	var legFailures []string
	e := newTestExecutor(t, gw)
	e.AddLegFailureHook(func(mo ManagedOrder, leg string, err error) {
		legFailures = append(legFailures, mo.ID+"/"+leg)
	})

	mo, err := e.Place(context.Background(), longBTC())
	require.NoError(t, err)
	require.NotNil(t, mo)
	assert.Equal(t, "ex-1", mo.EntryID)
	assert.Empty(t, mo.StopLossID)
	assert.NotEmpty(t, mo.TakeProfitID)
	assert.Equal(t, EntryWithTarget, mo.Protection)
	assert.True(t, mo.Protection.Naked())
	assert.Contains(t, mo.LegErrors, LegStopLoss)
	assert.Equal(t, []string{LegStopLoss}, mo.MissingLegs())
	assert.Equal(t, []string{"mo-1/stop_loss"}, legFailures)

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, EntryWithTarget, active[0].Protection)
	assert.Equal(t, 1, e.ErrorStats().Count(boterrors.ErrorCategoryProtectiveLegFailed))
}

func TestPlaceEntryFailureRecordsNothing(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeMarket] = exchange.ErrInvalidOrder
	e := newTestExecutor(t, gw)

	mo, err := e.Place(context.Background(), longBTC())
	assert.Nil(t, mo)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryOrderPlacementFailed))
	assert.ErrorIs(t, err, exchange.ErrInvalidOrder)
	assert.Empty(t, e.Active())
	assert.Empty(t, e.History())
	assert.Empty(t, gw.createdOrders())
}

func TestEntryTimeoutIsPlacementFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.blockOn[types.OrderTypeMarket] = true
	cfg := testConfig()
	cfg.CallTimeoutSeconds = 0.02
	e := newTestExecutorWithConfig(t, gw, cfg)

	_, err := e.Place(context.Background(), longBTC())
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryOrderPlacementFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, e.Active())
}

func TestLegTimeoutIsLegFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.blockOn[types.OrderTypeLimit] = true
	cfg := testConfig()
	cfg.CallTimeoutSeconds = 0.02
	e := newTestExecutorWithConfig(t, gw, cfg)

	mo, err := e.Place(context.Background(), longBTC())
	require.NoError(t, err)
	assert.Equal(t, EntryWithStop, mo.Protection)
	assert.Empty(t, mo.TakeProfitID)
}

func TestBalanceValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient quote for a buy", func(t *testing.T) {
		gw := newFakeGateway()
		gw.balances["USDT"] = 1000
		e := newTestExecutor(t, gw)

		req := longBTC()
		req.ValidateBalance = true
		_, err := e.Place(ctx, req)
		assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryBalanceInsufficient))
		assert.Empty(t, gw.createdOrders())
	})

	t.Run("sell checks the base asset", func(t *testing.T) {
		gw := newFakeGateway()
		e := newTestExecutor(t, gw)

		req := PlaceRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeMarket, Amount: 2, ValidateBalance: true}
		_, err := e.Place(ctx, req)
		assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryBalanceInsufficient))

		req.Amount = 0.5
		_, err = e.Place(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("balance fetch failure aborts", func(t *testing.T) {
		gw := newFakeGateway()
		gw.balanceErr = exchange.ErrConnectionFailed
		cfg := testConfig()
		cfg.ValidateBalance = true
		e := newTestExecutorWithConfig(t, gw, cfg)

		_, err := e.Place(ctx, longBTC())
		assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryExchangeTransient))
		assert.Empty(t, gw.createdOrders())
	})

	t.Run("market buy without reference price", func(t *testing.T) {
		gw := newFakeGateway()
		e := newTestExecutor(t, gw)
		req := longBTC()
		req.ReferencePrice = 0
		req.ValidateBalance = true
		_, err := e.Place(ctx, req)
		assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryInvalidInput))
	})
}

func TestPlaceRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *PlaceRequest)
	}{
		{"empty symbol", func(r *PlaceRequest) { r.Symbol = "" }},
		{"bad side", func(r *PlaceRequest) { r.Side = "long" }},
		{"zero amount", func(r *PlaceRequest) { r.Amount = 0 }},
		{"stop-limit entry", func(r *PlaceRequest) { r.Type = types.OrderTypeStopLimit }},
		{"limit without price", func(r *PlaceRequest) { r.Type = types.OrderTypeLimit; r.Price = 0 }},
		{"stop above long entry", func(r *PlaceRequest) { r.StopLoss = 101 }},
		{"target below long entry", func(r *PlaceRequest) { r.TakeProfit = 99 }},
		{"negative stop", func(r *PlaceRequest) { r.StopLoss = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			e := newTestExecutor(t, gw)
			req := longBTC()
			tt.mutate(&req)
			_, err := e.Place(context.Background(), req)
			assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryInvalidInput), "%v", err)
			assert.Empty(t, gw.createdOrders())
		})
	}
}

func TestCancelCascade(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	var completed []ManagedOrder
	e.AddCompletionHook(func(mo ManagedOrder) { completed = append(completed, mo) })

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)

	ok, err := e.Cancel(ctx, mo.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"ex-1", "ex-2", "ex-3"}, gw.cancelled)
	assert.Empty(t, e.Active())

	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, types.OrderStatusCancelled, hist[0].Status)
	assert.Equal(t, testNow, hist[0].CompletedAt)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Unfilled())

	ok, err = e.Cancel(ctx, mo.ID)
	assert.False(t, ok)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryInvalidInput))
}

func TestCancelLegFailureStillMovesToHistory(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	gw.set(func(f *fakeGateway) { f.cancelErr[mo.StopLossID] = exchange.ErrConnectionFailed })

	ok, err := e.Cancel(ctx, mo.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, e.Active())
	got, found := e.Get(mo.ID)
	require.True(t, found)
	assert.Equal(t, types.OrderStatusCancelled, got.Status)
}

func TestCancelEntryFailureKeepsOrderActive(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	gw.set(func(f *fakeGateway) { f.cancelErr[mo.EntryID] = exchange.ErrConnectionFailed })

	ok, err := e.Cancel(ctx, mo.ID)
	assert.False(t, ok)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryExchangeTransient))
	require.Len(t, e.Active(), 1)
	assert.Empty(t, gw.cancelled)
}

func TestCancelAdoptsEntryThatAlreadyFilled(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)
	gw.set(func(f *fakeGateway) { f.cancelErr[mo.EntryID] = exchange.ErrInvalidOrder })

	ok, err := e.Cancel(ctx, mo.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, e.Active())
	assert.Contains(t, gw.cancelled, mo.StopLossID)
	assert.Contains(t, gw.cancelled, mo.TakeProfitID)

	got, _ := e.Get(mo.ID)
	assert.Equal(t, types.OrderStatusFilled, got.Status)
	assert.Equal(t, 16.0, got.FilledAmount)
	assert.Empty(t, e.Positions())
}

func TestCancelAllBySymbol(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	_, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	_, err = e.Place(ctx, longBTC())
	require.NoError(t, err)
	eth := PlaceRequest{Symbol: "ETH/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 1}
	_, err = e.Place(ctx, eth)
	require.NoError(t, err)

	assert.Equal(t, 2, e.CancelAll(ctx, "BTC/USDT"))
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "ETH/USDT", active[0].Symbol)

	assert.Equal(t, 1, e.CancelAll(ctx, ""))
	assert.Empty(t, e.Active())
}

func TestMonitorMovesTerminalOrders(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	health := monitoring.NewHealthChecker(time.Minute)
	e := newTestExecutor(t, gw, WithHealth(health))

	var completed []ManagedOrder
	e.AddCompletionHook(func(mo ManagedOrder) { completed = append(completed, mo) })

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)

	gw.set(func(f *fakeGateway) {
		f.states[mo.EntryID].Status = types.OrderStatusPartiallyFilled
		f.states[mo.EntryID].FilledAmount = 8
		f.states[mo.EntryID].FillPrice = 100.2
	})
	e.PollOnce(ctx)
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, types.OrderStatusPartiallyFilled, active[0].Status)
	assert.Equal(t, 8.0, active[0].FilledAmount)

	gw.set(func(f *fakeGateway) {
		f.states[mo.EntryID].Status = types.OrderStatusFilled
		f.states[mo.EntryID].FilledAmount = 16
		f.states[mo.EntryID].FillPrice = 100.1
	})
	e.PollOnce(ctx)
	assert.Empty(t, e.Active())
	require.Len(t, completed, 1)
	assert.Equal(t, types.OrderStatusFilled, completed[0].Status)
	assert.Equal(t, 100.1, completed[0].FillPrice)
	assert.Equal(t, 16.0, completed[0].FilledAmount)
	assert.False(t, completed[0].Unfilled())
	assert.Equal(t, "healthy", health.Status(testNow).Status)
}

func TestPollFailureIsIsolatedPerOrder(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	health := monitoring.NewHealthChecker(time.Minute)
	e := newTestExecutor(t, gw, WithHealth(health))

	first, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	second, err := e.Place(ctx, longBTC())
	require.NoError(t, err)

	gw.set(func(f *fakeGateway) {
		f.fetchErr[first.EntryID] = errors.New("timeout")
		f.states[second.EntryID].Status = types.OrderStatusExpired
	})

	assert.NotPanics(t, func() { e.PollOnce(ctx) })
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)

	got, ok := e.Get(second.ID)
	require.True(t, ok)
	assert.Equal(t, types.OrderStatusExpired, got.Status)
	assert.True(t, got.Unfilled())
	assert.Contains(t, gw.cancelled, second.StopLossID)
	assert.Contains(t, gw.cancelled, second.TakeProfitID)
	assert.NotContains(t, gw.cancelled, first.StopLossID)
	assert.Empty(t, e.Positions())

	st := health.Status(testNow)
	assert.Equal(t, "degraded", st.Status)
	assert.NotEmpty(t, st.Errors)
	assert.GreaterOrEqual(t, e.ErrorStats().Count(boterrors.ErrorCategoryExchangeTransient), 1)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PollIntervalSeconds = 0.01
	e := newTestExecutorWithConfig(t, newFakeGateway(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Monitor(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestReplaceStopLoss(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)

	require.NoError(t, e.ReplaceStopLoss(ctx, mo.ID, 97))
	got, _ := e.Get(mo.ID)
	assert.Equal(t, 97.0, got.StopLoss)
	assert.Equal(t, "ex-4", got.StopLossID)
	assert.Contains(t, gw.cancelled, mo.StopLossID)
	assert.Equal(t, FullyProtected, got.Protection)

	gw.set(func(f *fakeGateway) { f.createErr[types.OrderTypeStopLimit] = exchange.ErrConnectionFailed })
	err = e.ReplaceStopLoss(ctx, mo.ID, 98)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryProtectiveLegFailed))
	got, _ = e.Get(mo.ID)
	assert.Empty(t, got.StopLossID)
	assert.Equal(t, EntryWithTarget, got.Protection)

	assert.Error(t, e.ReplaceStopLoss(ctx, mo.ID, 0))
	assert.Error(t, e.ReplaceStopLoss(ctx, "missing", 90))
}

func TestRetryProtectionRestoresMissingLeg(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeStopLimit] = exchange.ErrConnectionFailed
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	require.Equal(t, EntryWithTarget, mo.Protection)

	_, err = e.RetryProtection(ctx, mo.ID)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryProtectiveLegFailed))

	gw.set(func(f *fakeGateway) { delete(f.createErr, types.OrderTypeStopLimit) })
	fixed, err := e.RetryProtection(ctx, mo.ID)
	require.NoError(t, err)
	assert.Equal(t, FullyProtected, fixed.Protection)
	assert.Empty(t, fixed.LegErrors)
	assert.Empty(t, fixed.MissingLegs())
}

func TestEntryBreakerOpensOnTransientFailures(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeMarket] = exchange.ErrConnectionFailed
	cfg := testConfig()
	cfg.BreakerFailures = 2
	e := newTestExecutorWithConfig(t, gw, cfg)

	for i := 0; i < 2; i++ {
		_, err := e.Place(ctx, longBTC())
		assert.ErrorIs(t, err, exchange.ErrConnectionFailed)
	}

	gw.set(func(f *fakeGateway) { delete(f.createErr, types.OrderTypeMarket) })
	_, err := e.Place(ctx, longBTC())
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryOrderPlacementFailed))
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Empty(t, gw.createdOrders())
}

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	ex := paper.New(exchange.PaperConfig{
		Balances: map[string]float64{"USDT": 10000},
		Prices:   map[string]float64{"BTC/USDT": 100},
	})
	cfg := testConfig()
	cfg.ValidateBalance = true
	e := newTestExecutorWithConfig(t, ex, cfg)

	req := longBTC()
	req.Type = types.OrderTypeLimit
	req.Price = 100
	mo, err := e.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, FullyProtected, mo.Protection)

	e.PollOnce(ctx)
	got, _ := e.Get(mo.ID)
	assert.Equal(t, types.OrderStatusFilled, got.Status)
	assert.Equal(t, 100.0, got.FillPrice)
	assert.Empty(t, e.Active())
	assert.Len(t, ex.Open("BTC/USDT"), 2)
	require.Len(t, e.Positions(), 1)
	assert.Equal(t, mo.ID, e.Positions()[0].ID)
}

func fillEntry(gw *fakeGateway, mo *ManagedOrder) {
	gw.set(func(f *fakeGateway) {
		f.states[mo.EntryID].Status = types.OrderStatusFilled
		f.states[mo.EntryID].FilledAmount = mo.Amount
		f.states[mo.EntryID].FillPrice = 100
	})
}

func TestMonitorRetriesTransientLegFailure(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeStopLimit] = exchange.ErrConnectionFailed
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	require.Equal(t, EntryWithTarget, mo.Protection)

	e.PollOnce(ctx)
	got, _ := e.Get(mo.ID)
	assert.Equal(t, 1, got.LegRetries)
	assert.Empty(t, got.StopLossID)

	gw.set(func(f *fakeGateway) { delete(f.createErr, types.OrderTypeStopLimit) })
	e.PollOnce(ctx)
	got, _ = e.Get(mo.ID)
	assert.Equal(t, 2, got.LegRetries)
	assert.Equal(t, FullyProtected, got.Protection)
	assert.NotEmpty(t, got.StopLossID)

	e.PollOnce(ctx)
	got, _ = e.Get(mo.ID)
	assert.Equal(t, 2, got.LegRetries, "a protected unit is not retried")
}

func TestMonitorSkipsLegFailureThatRetryCannotFix(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeStopLimit] = exchange.ErrInsufficientBalance
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	require.Len(t, gw.createdOrders(), 2)

	gw.set(func(f *fakeGateway) { delete(f.createErr, types.OrderTypeStopLimit) })
	e.PollOnce(ctx)
	got, _ := e.Get(mo.ID)
	assert.Zero(t, got.LegRetries)
	assert.Equal(t, EntryWithTarget, got.Protection)
	assert.Len(t, gw.createdOrders(), 2)
}

func TestMonitorRetryBudget(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	gw.createErr[types.OrderTypeStopLimit] = exchange.ErrConnectionFailed
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		e.PollOnce(ctx)
	}
	got, _ := e.Get(mo.ID)
	assert.Equal(t, testConfig().ProtectionRetries, got.LegRetries)
	assert.Equal(t, EntryWithTarget, got.Protection)
}

func TestFilledPositionExitsOnTakeProfit(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	var exits []ManagedOrder
	e.AddExitHook(func(mo ManagedOrder) { exits = append(exits, mo) })

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)

	e.PollOnce(ctx)
	assert.Empty(t, e.Active())
	require.Len(t, e.Positions(), 1)
	assert.Empty(t, exits)

	gw.set(func(f *fakeGateway) {
		f.states[mo.TakeProfitID].Status = types.OrderStatusFilled
		f.states[mo.TakeProfitID].FilledAmount = 16
		f.states[mo.TakeProfitID].FillPrice = 110
	})
	e.PollOnce(ctx)

	require.Len(t, exits, 1)
	assert.Equal(t, mo.ID, exits[0].ID)
	assert.Equal(t, LegTakeProfit, exits[0].ExitLeg)
	assert.Equal(t, 110.0, exits[0].ExitPrice)
	assert.Contains(t, gw.cancelled, mo.StopLossID)
	assert.NotContains(t, gw.cancelled, mo.TakeProfitID)
	assert.Empty(t, e.Positions())

	e.PollOnce(ctx)
	assert.Len(t, exits, 1)
}

func TestStopFillWithoutPriceExitsAtStopLevel(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	var exits []ManagedOrder
	e.AddExitHook(func(mo ManagedOrder) { exits = append(exits, mo) })

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)
	e.PollOnce(ctx)

	gw.set(func(f *fakeGateway) {
		f.states[mo.StopLossID].Status = types.OrderStatusFilled
		f.states[mo.StopLossID].FilledAmount = 16
	})
	e.PollOnce(ctx)

	require.Len(t, exits, 1)
	assert.Equal(t, LegStopLoss, exits[0].ExitLeg)
	assert.Equal(t, 95.0, exits[0].ExitPrice)
	assert.Contains(t, gw.cancelled, mo.TakeProfitID)
}

func TestLegEndedWithoutFillIsReported(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	var legFailures []string
	e.AddLegFailureHook(func(mo ManagedOrder, leg string, err error) {
		legFailures = append(legFailures, mo.ID+"/"+leg)
	})

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)
	e.PollOnce(ctx)

	gw.set(func(f *fakeGateway) { f.states[mo.StopLossID].Status = types.OrderStatusCancelled })
	e.PollOnce(ctx)

	assert.Equal(t, []string{"mo-1/stop_loss"}, legFailures)
	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Empty(t, positions[0].StopLossID)
	assert.Equal(t, mo.TakeProfitID, positions[0].TakeProfitID)
	assert.Equal(t, EntryWithTarget, positions[0].Protection)

	gw.set(func(f *fakeGateway) { f.states[mo.TakeProfitID].Status = types.OrderStatusExpired })
	e.PollOnce(ctx)
	assert.Equal(t, []string{"mo-1/stop_loss", "mo-1/take_profit"}, legFailures)
	assert.Empty(t, e.Positions())
}

func TestCloseLegsReleasesPosition(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)
	e.PollOnce(ctx)
	require.Len(t, e.Positions(), 1)

	assert.Equal(t, 0, e.CloseLegs(ctx, "ETH/USDT"))
	assert.Equal(t, 1, e.CloseLegs(ctx, "BTC/USDT"))
	assert.Contains(t, gw.cancelled, mo.StopLossID)
	assert.Contains(t, gw.cancelled, mo.TakeProfitID)
	assert.Empty(t, e.Positions())
	assert.Equal(t, 0, e.CloseLegs(ctx, "BTC/USDT"))
}

func TestReplaceStopLossOnFilledPosition(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	e := newTestExecutor(t, gw)

	mo, err := e.Place(ctx, longBTC())
	require.NoError(t, err)
	fillEntry(gw, mo)
	e.PollOnce(ctx)

	require.NoError(t, e.ReplaceStopLoss(ctx, mo.ID, 99))
	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 99.0, positions[0].StopLoss)
	assert.Equal(t, "ex-4", positions[0].StopLossID)
	assert.Contains(t, gw.cancelled, mo.StopLossID)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.StopSlippage = 0.6
	assert.Error(t, cfg.Validate())

	_, err := NewExecutor(nil, DefaultConfig())
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryConfiguration))
}
