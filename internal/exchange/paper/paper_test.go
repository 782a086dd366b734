package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

func newTestExchange() *Exchange {
	return New(exchange.PaperConfig{
		Balances:   map[string]float64{"usdt": 10000},
		Prices:     map[string]float64{"BTC/USDT": 100},
		FillMarket: true,
	}, WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }))
}

func TestMarketBuyFillsAndMovesBalances(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	ack, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 16})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, ack.Status)

	st, err := ex.FetchOrder(ctx, "BTC/USDT", ack.ID)
	require.NoError(t, err)
	assert.Equal(t, 16.0, st.FilledAmount)
	assert.Equal(t, 100.0, st.FillPrice)

	usdt, _ := ex.FetchBalance(ctx, "USDT")
	btc, _ := ex.FetchBalance(ctx, "btc")
	assert.InDelta(t, 8400, usdt, 1e-9)
	assert.InDelta(t, 16, btc, 1e-9)
}

func TestInsufficientBalance(t *testing.T) {
	ex := newTestExchange()
	_, err := ex.CreateOrder(context.Background(), exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 1000})
	assert.ErrorIs(t, err, exchange.ErrInsufficientBalance)
	assert.Empty(t, ex.Open("BTC/USDT"))
}

func TestRejectsMalformedOrders(t *testing.T) {
	ex := newTestExchange()
	ctx := context.Background()
	tests := []struct {
		name string
		req  exchange.OrderRequest
		want error
	}{
		{"no separator", exchange.OrderRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 1}, exchange.ErrInvalidSymbol},
		{"zero amount", exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket}, exchange.ErrInvalidOrder},
		{"limit without price", exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit, Amount: 1}, exchange.ErrInvalidOrder},
		{"stop without trigger", exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeStopLimit, Amount: 1, Price: 94}, exchange.ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.CreateOrder(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProtectiveLegsMatchOnPriceMoves(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	stop, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeStopLimit, Amount: 1, StopPrice: 95, Price: 94.525})
	require.NoError(t, err)
	target, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit, Amount: 1, Price: 110})
	require.NoError(t, err)
	assert.Equal(t, []string{stop.ID, target.ID}, ex.Open("BTC/USDT"))

	ex.SetPrice("BTC/USDT", 96)
	assert.Len(t, ex.Open("BTC/USDT"), 2)

	ex.SetPrice("BTC/USDT", 94.8)
	st, err := ex.FetchOrder(ctx, "BTC/USDT", stop.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, st.Status)
	assert.Equal(t, 94.8, st.FillPrice)

	ex.SetPrice("BTC/USDT", 111)
	st, err = ex.FetchOrder(ctx, "BTC/USDT", target.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, st.Status)
	assert.Equal(t, 110.0, st.FillPrice)
}

func TestCancelAndExpire(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	ack, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit, Amount: 1, Price: 120})
	require.NoError(t, err)

	assert.ErrorIs(t, ex.CancelOrder(ctx, "ETH/USDT", ack.ID), exchange.ErrOrderNotFound)
	require.NoError(t, ex.CancelOrder(ctx, "BTC/USDT", ack.ID))
	assert.ErrorIs(t, ex.CancelOrder(ctx, "BTC/USDT", ack.ID), exchange.ErrInvalidOrder)

	other, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit, Amount: 1, Price: 120})
	require.NoError(t, err)
	require.NoError(t, ex.Expire(other.ID))
	st, err := ex.FetchOrder(ctx, "BTC/USDT", other.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusExpired, st.Status)
}

func TestFailNextCreate(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()
	boom := errors.New("boom")
	ex.FailNextCreate(boom)

	_, err := ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 1})
	assert.ErrorIs(t, err, boom)
	_, err = ex.CreateOrder(ctx, exchange.OrderRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Amount: 1})
	assert.NoError(t, err)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestExchange().FetchBalance(ctx, "USDT")
	assert.ErrorIs(t, err, context.Canceled)
}
