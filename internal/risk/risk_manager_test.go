package risk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}
}

func newManager(balance float64) (*Manager, *testClock) {
	clock := newClock()
	return NewManager(DefaultConfig(), balance, WithClock(clock.Now)), clock
}

func TestEndToEndSizingAndValidation(t *testing.T) {
	m, _ := newManager(10000)

	assert.InDelta(t, 20.0, m.SizePosition(100, 95, 1.0, false), 1e-9)

	amount := m.SizePosition(100, 95, 0.8, false)
	assert.InDelta(t, 16.0, amount, 1e-9)

	d := m.ValidateTrade(TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: amount, Entry: 100, StopLoss: 95})
	assert.True(t, d.Accepted, d.Reason)
	assert.Equal(t, CheckPassed, d.Check)
	assert.NoError(t, d.Err())
}

func TestSizePosition_ZeroPriceRiskFallsBack(t *testing.T) {
	m, _ := newManager(10000)
	// 100 / (100 * 0.02)
	assert.InDelta(t, 50.0, m.SizePosition(100, 100, 1.0, false), 1e-9)
	assert.Zero(t, m.SizePosition(0, 95, 1.0, false))
}

func buildHistory(t *testing.T, m *Manager, trades int, exit float64) {
	t.Helper()
	for i := 0; i < trades; i++ {
		sym := fmt.Sprintf("H%d/USDT", i)
		require.NoError(t, m.AddPosition(Position{Symbol: sym, Side: types.SideBuy, EntryPrice: 100, Amount: 1}))
		_, err := m.ClosePosition(sym, exit)
		require.NoError(t, err)
	}
}

func TestSizePosition_KellyBound(t *testing.T) {
	t.Run("perfect record caps at twice base", func(t *testing.T) {
		m, _ := newManager(10000)
		buildHistory(t, m, 12, 101)

		base := m.PortfolioStats().Balance * 0.01 / 5
		assert.InDelta(t, 2*base, m.SizePosition(100, 95, 1.0, true), 1e-9)
		assert.InDelta(t, 1.5*base, m.SizePosition(100, 95, 0.5, true), 1e-9)
	})

	t.Run("no edge keeps base", func(t *testing.T) {
		m, _ := newManager(10000)
		buildHistory(t, m, 12, 99)

		base := m.PortfolioStats().Balance * 0.01 / 5
		assert.InDelta(t, base, m.SizePosition(100, 95, 0.9, true), 1e-9)
	})

	t.Run("short history ignores kelly", func(t *testing.T) {
		m, _ := newManager(10000)
		buildHistory(t, m, 10, 101)

		base := m.PortfolioStats().Balance * 0.01 / 5
		assert.InDelta(t, 0.7*base, m.SizePosition(100, 95, 0.7, true), 1e-9)
	})

	t.Run("fraction never exceeds cap", func(t *testing.T) {
		cfg := DefaultConfig()
		for p := 0.0; p <= 1.0; p += 0.01 {
			k := cfg.KellyFraction(p)
			assert.GreaterOrEqual(t, k, 0.0)
			assert.LessOrEqual(t, k, 0.25)
		}
	})
}

func TestValidateTrade_PortfolioRiskBoundaryInclusive(t *testing.T) {
	m, _ := newManager(10000)
	require.NoError(t, m.AddPosition(Position{Symbol: "ETH/USDT", Side: types.SideBuy, EntryPrice: 100, Amount: 30, StopLoss: 90}))

	atCap := m.ValidateTrade(TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 20, Entry: 100, StopLoss: 90})
	assert.True(t, atCap.Accepted, atCap.Reason)

	overCap := m.ValidateTrade(TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 20.01, Entry: 100, StopLoss: 90})
	assert.False(t, overCap.Accepted)
	assert.Equal(t, CheckPortfolioRisk, overCap.Check)
	assert.True(t, boterrors.IsCategory(overCap.Err(), boterrors.ErrorCategoryRiskRejected))

	noStop := m.ValidateTrade(TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 20.01, Entry: 100})
	assert.True(t, noStop.Accepted, noStop.Reason)
}

func TestValidateTrade_DailyBreakerResetsNextDay(t *testing.T) {
	m, clock := newManager(10000)
	require.NoError(t, m.AddPosition(Position{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 100, Amount: 10}))
	pnl, err := m.ClosePosition("BTC/USDT", 70)
	require.NoError(t, err)
	assert.InDelta(t, -300.0, pnl, 1e-9)

	req := TradeRequest{Symbol: "ETH/USDT", Side: types.SideBuy, Amount: 1, Entry: 100, StopLoss: 98}

	d := m.ValidateTrade(req)
	assert.False(t, d.Accepted)
	assert.Equal(t, CheckDailyLoss, d.Check)
	assert.True(t, m.PortfolioStats().TradingHalted)

	clock.Advance(13*time.Hour + 50*time.Minute)
	assert.Equal(t, CheckDailyLoss, m.ValidateTrade(req).Check, "still the same day")

	clock.Advance(20 * time.Minute)
	d = m.ValidateTrade(req)
	assert.True(t, d.Accepted, d.Reason)

	stats := m.PortfolioStats()
	assert.Zero(t, stats.DailyPnL)
	assert.False(t, stats.TradingHalted)
	assert.InDelta(t, 9700.0, stats.Balance, 1e-9)
}

func TestValidateTrade_Gates(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		open []Position
		req  TradeRequest
		want Check
	}{
		{
			name: "max positions",
			cfg:  func(c *Config) { c.MaxPositions = 2 },
			open: []Position{
				{Symbol: "ETH/USDT", Side: types.SideBuy, EntryPrice: 10, Amount: 1},
				{Symbol: "SOL/USDT", Side: types.SideBuy, EntryPrice: 10, Amount: 1},
			},
			req:  TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 1, Entry: 100},
			want: CheckMaxPositions,
		},
		{
			name: "correlated exposure at limit",
			open: []Position{{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 50000, Amount: 0.02}},
			req:  TradeRequest{Symbol: "BTC/USDC", Side: types.SideBuy, Amount: 0.001, Entry: 50000},
			want: CheckCorrelatedExposure,
		},
		{
			name: "fiat quote shares the base",
			open: []Position{{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 50000, Amount: 0.02}},
			req:  TradeRequest{Symbol: "BTC/EUR", Side: types.SideBuy, Amount: 0.001, Entry: 50000},
			want: CheckCorrelatedExposure,
		},
		{
			name: "different base is not correlated",
			open: []Position{{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 50000, Amount: 0.02}},
			req:  TradeRequest{Symbol: "BTCDOM/USDT", Side: types.SideBuy, Amount: 1, Entry: 100},
			want: CheckPassed,
		},
		{
			name: "below correlated limit",
			open: []Position{{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 50000, Amount: 0.019}},
			req:  TradeRequest{Symbol: "BTC/USDC", Side: types.SideBuy, Amount: 0.001, Entry: 50000},
			want: CheckPassed,
		},
		{
			name: "too large",
			req:  TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 60, Entry: 100},
			want: CheckPositionSize,
		},
		{
			name: "too small",
			req:  TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 0.05, Entry: 100},
			want: CheckPositionSize,
		},
		{
			name: "malformed",
			req:  TradeRequest{Symbol: "BTC/USDT", Side: "long", Amount: 1, Entry: 100},
			want: CheckInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			m := NewManager(cfg, 10000, WithClock(newClock().Now))
			for _, p := range tt.open {
				require.NoError(t, m.AddPosition(p))
			}
			d := m.ValidateTrade(tt.req)
			assert.Equal(t, tt.want, d.Check, d.Reason)
			assert.Equal(t, tt.want == CheckPassed, d.Accepted)
		})
	}
}

func TestTryOpen_ConcurrentCallsRespectPortfolioCap(t *testing.T) {
	m, _ := newManager(10000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := m.TryOpen(TradeRequest{
				Symbol:   fmt.Sprintf("C%d/USDT", i),
				Side:     types.SideBuy,
				Amount:   10,
				Entry:    100,
				StopLoss: 90,
			}, 120)
			if err == nil && d.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	stats := m.PortfolioStats()
	assert.LessOrEqual(t, stats.TotalRisk, 500.0)
	assert.Equal(t, 5, stats.OpenPositions)
	assert.Equal(t, 5, stats.TotalTrades)
}

func TestTryOpen_RejectsOpenSymbol(t *testing.T) {
	m, _ := newManager(10000)
	req := TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 1, Entry: 100, StopLoss: 95}

	d, err := m.TryOpen(req, 110)
	require.NoError(t, err)
	assert.True(t, d.Accepted)

	p, ok := m.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, 110.0, p.TakeProfit)

	d, err = m.TryOpen(req, 110)
	require.Error(t, err)
	assert.Equal(t, CheckOpenPosition, d.Check)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryRiskRejected))
}

func TestPositionBookkeeping(t *testing.T) {
	m, _ := newManager(10000)

	err := m.AddPosition(Position{Symbol: "BTC/USDT", Side: types.SideBuy, EntryPrice: 100, Amount: 0})
	require.Error(t, err)
	assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryInvalidInput))

	require.NoError(t, m.AddPosition(Position{Symbol: "ETH/USDT", Side: types.SideSell, EntryPrice: 100, Amount: 2, StopLoss: 105}))
	require.NoError(t, m.AddPosition(Position{Symbol: "SOL/USDT", Side: types.SideBuy, EntryPrice: 20, Amount: 10}))

	upnl, err := m.UpdatePositionPnL("ETH/USDT", 95)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, upnl, 1e-9)

	stats := m.PortfolioStats()
	assert.Equal(t, 2, stats.OpenPositions)
	assert.InDelta(t, 400.0, stats.TotalNotional, 1e-9)
	assert.InDelta(t, 10.0, stats.TotalRisk, 1e-9)
	assert.InDelta(t, 0.1, stats.RiskPct, 1e-9)
	assert.InDelta(t, 10.0, stats.TotalUnrealizedPnL, 1e-9)

	pnl, err := m.ClosePosition("ETH/USDT", 90)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, pnl, 1e-9)

	assert.True(t, m.DiscardPosition("SOL/USDT"))
	assert.False(t, m.DiscardPosition("SOL/USDT"))

	_, err = m.ClosePosition("SOL/USDT", 25)
	require.Error(t, err)

	stats = m.PortfolioStats()
	assert.Zero(t, stats.OpenPositions)
	assert.Equal(t, 1, stats.TotalTrades, "a discarded position is not a trade")
	assert.Equal(t, 1, stats.WinningTrades)
	assert.InDelta(t, 100.0, stats.WinRate, 1e-9)
	assert.InDelta(t, 10020.0, stats.Balance, 1e-9)
	assert.InDelta(t, 20.0, stats.DailyPnL, 1e-9)
}

func TestDiscardedEntriesLeaveWinRateAlone(t *testing.T) {
	m, _ := newManager(10000)

	req := TradeRequest{Symbol: "BTC/USDT", Side: types.SideBuy, Amount: 16, Entry: 100, StopLoss: 95}
	_, err := m.TryOpen(req, 110)
	require.NoError(t, err)
	_, err = m.ClosePosition("BTC/USDT", 110)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := m.TryOpen(req, 110)
		require.NoError(t, err)
		require.True(t, m.DiscardPosition("BTC/USDT"))
	}

	stats := m.PortfolioStats()
	assert.Zero(t, stats.OpenPositions)
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.InDelta(t, 100.0, stats.WinRate, 1e-9)
}

func TestPositionsOrderedByOpenTime(t *testing.T) {
	m, clock := newManager(10000)
	require.NoError(t, m.AddPosition(Position{Symbol: "SOL/USDT", Side: types.SideBuy, EntryPrice: 20, Amount: 1}))
	clock.Advance(time.Minute)
	require.NoError(t, m.AddPosition(Position{Symbol: "ADA/USDT", Side: types.SideBuy, EntryPrice: 1, Amount: 100}))

	ps := m.Positions()
	require.Len(t, ps, 2)
	assert.Equal(t, "SOL/USDT", ps[0].Symbol)
	assert.Equal(t, "ADA/USDT", ps[1].Symbol)
}
