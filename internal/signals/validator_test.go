package signals

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestValidator(clock *fakeClock) *Validator {
	return NewValidator(DefaultConfig(), WithClock(clock.Now))
}

func historyLen(v *Validator, key string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.history.len(key)
}

func TestValidator_SellWhenOversoldIsRejected(t *testing.T) {
	for _, rsi := range []float64{0, 12.5, 34.99} {
		for _, conf := range []float64{0.1, 0.6, 1.0} {
			v := newTestValidator(newFakeClock())
			res, err := v.Validate("BTC/USDT", types.DirectionSell, conf, &types.Metrics{RSI: rsi})
			require.NoError(t, err)

			assert.True(t, res.Rejected(), "rsi=%v conf=%v", rsi, conf)
			assert.Equal(t, types.DirectionNone, res.Signal)
			assert.Zero(t, res.Confidence)
			assert.False(t, res.IsValid)
			assert.NotEmpty(t, res.Contradictions)
			assert.Zero(t, historyLen(v, "BTC/USDT"))
		}
	}
}

func TestValidator_CriticalContradictions(t *testing.T) {
	tests := []struct {
		name string
		dir  types.Direction
		m    types.Metrics
	}{
		{"buy overbought", types.DirectionBuy, types.Metrics{RSI: 80}},
		{"sell bullish histogram", types.DirectionSell, types.Metrics{RSI: 60, MACDHistogram: 0.001}},
		{"sell into rally", types.DirectionSell, types.Metrics{RSI: 50, PriceChange24h: 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(newFakeClock())
			res, err := v.Validate("ETH/USDT", tt.dir, 0.9, &tt.m)
			require.NoError(t, err)
			assert.True(t, res.Rejected())
			assert.Equal(t, 1, v.Stats().RejectedContradictions)
		})
	}
}

func TestValidator_HoldPassesThrough(t *testing.T) {
	v := newTestValidator(newFakeClock())
	res, err := v.Validate("BTC/USDT", types.DirectionHold, 0.3, &types.Metrics{RSI: 10})
	require.NoError(t, err)

	assert.Equal(t, types.DirectionHold, res.Signal)
	assert.Equal(t, 0.3, res.Confidence)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Contradictions)
	assert.Zero(t, v.Stats().TotalValidated)
}

func TestValidator_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		dir  types.Direction
		conf float64
	}{
		{"unknown direction", types.Direction("UP"), 0.5},
		{"empty direction", types.DirectionNone, 0.5},
		{"confidence above one", types.DirectionBuy, 1.2},
		{"negative confidence", types.DirectionSell, -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(newFakeClock())
			res, err := v.Validate("BTC/USDT", tt.dir, tt.conf, nil)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, boterrors.IsCategory(err, boterrors.ErrorCategoryInvalidInput))
		})
	}
}

func TestValidator_MinorContradictionPenalty(t *testing.T) {
	t.Run("single minor", func(t *testing.T) {
		v := newTestValidator(newFakeClock())
		res, err := v.Validate("SOL/USDT", types.DirectionBuy, 0.8, &types.Metrics{
			RSI: 45, MACDHistogram: -0.002, PriceChange24h: -6,
		})
		require.NoError(t, err)
		assert.Equal(t, types.DirectionBuy, res.Signal)
		assert.InDelta(t, 0.65, res.Confidence, 1e-9)
		assert.Len(t, res.Contradictions, 1)
		assert.True(t, res.IsValid)
	})

	t.Run("two minors", func(t *testing.T) {
		v := newTestValidator(newFakeClock())
		res, err := v.Validate("SOL/USDT", types.DirectionBuy, 0.8, &types.Metrics{
			RSI: 45, MACDLine: -0.5, MACDSignal: -0.3, MACDHistogram: -0.002, PriceChange24h: -6,
		})
		require.NoError(t, err)
		assert.InDelta(t, 0.50, res.Confidence, 1e-9)
		assert.Len(t, res.Contradictions, 2)
	})
}

func TestValidator_StatisticalAdjustment(t *testing.T) {
	tests := []struct {
		name     string
		dir      types.Direction
		conf     float64
		m        types.Metrics
		wantConf float64
		wantAdj  float64
	}{
		{"overconfident at neutral rsi", types.DirectionBuy, 0.8, types.Metrics{RSI: 52}, 0.55, -25},
		{"underconfident buy at extreme", types.DirectionBuy, 0.5, types.Metrics{RSI: 15, MACDHistogram: 0.003}, 0.70, 20},
		{"underconfident sell at extreme", types.DirectionSell, 0.5, types.Metrics{RSI: 85, MACDHistogram: -0.003}, 0.70, 20},
		{"volatility penalty", types.DirectionBuy, 0.6, types.Metrics{RSI: 45, PriceChange24h: 25}, 0.50, -10},
		{"clamped at one hundred", types.DirectionBuy, 0.98, types.Metrics{RSI: 45, MACDHistogram: 0.005}, 1.0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(newFakeClock())
			res, err := v.Validate("BTC/USDT", tt.dir, tt.conf, &tt.m)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantConf, res.Confidence, 1e-9)
			assert.Equal(t, tt.wantAdj, res.StatsAdjustment)
			assert.Equal(t, 1, v.Stats().AdjustedConfidence)
		})
	}
}

func TestValidator_ConfidenceFloor(t *testing.T) {
	v := newTestValidator(newFakeClock())
	res, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.35, &types.Metrics{RSI: 45})
	require.NoError(t, err)

	assert.Equal(t, types.DirectionHold, res.Signal)
	assert.Equal(t, 0.40, res.Confidence)
	assert.False(t, res.IsValid)
	assert.False(t, res.Rejected())
	assert.Equal(t, 1, historyLen(v, "BTC/USDT"))
	assert.Equal(t, 1, v.Stats().TotalValidated)
}

func TestValidator_DuplicateWithinWindow(t *testing.T) {
	clock := newFakeClock()
	v := newTestValidator(clock)

	first, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.7, nil)
	require.NoError(t, err)
	assert.True(t, first.IsValid)

	clock.Advance(time.Minute)
	second, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.7, nil)
	require.NoError(t, err)
	assert.True(t, second.WasDuplicate)
	assert.True(t, second.Rejected())
	assert.Zero(t, second.Confidence)
	assert.Equal(t, 1, historyLen(v, "BTC/USDT"))

	stats := v.Stats()
	assert.Equal(t, 1, stats.RejectedDuplicates)
	assert.Equal(t, 1, stats.TotalValidated)
}

func TestValidator_DuplicateBoundaries(t *testing.T) {
	clock := newFakeClock()
	v := newTestValidator(clock)

	_, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.70, nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.79, nil)
	require.NoError(t, err)
	assert.True(t, res.WasDuplicate, "gap below 10 points")

	res, err = v.Validate("BTC/USDT", types.DirectionBuy, 0.81, nil)
	require.NoError(t, err)
	assert.False(t, res.WasDuplicate, "gap above 10 points")

	res, err = v.Validate("BTC/USDT", types.DirectionSell, 0.70, nil)
	require.NoError(t, err)
	assert.False(t, res.WasDuplicate, "opposite direction")

	clock.Advance(16 * time.Minute)
	res, err = v.Validate("BTC/USDT", types.DirectionBuy, 0.70, nil)
	require.NoError(t, err)
	assert.False(t, res.WasDuplicate, "outside window")
}

func TestValidator_HistoryBounded(t *testing.T) {
	clock := newFakeClock()
	v := newTestValidator(clock)

	for i := 0; i < 15; i++ {
		dir := types.DirectionBuy
		if i%2 == 1 {
			dir = types.DirectionSell
		}
		conf := 0.4 + float64(i%5)*0.12
		clock.Advance(10 * time.Second)
		_, err := v.Validate("XRP/USDT", dir, conf, nil)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, historyLen(v, "XRP/USDT"), 10)
}

func TestValidator_ScopedHistoriesAreIndependent(t *testing.T) {
	v := newTestValidator(newFakeClock())

	src, err := v.ValidateFrom("rule_based", "BTC/USDT", types.DirectionBuy, 0.7, nil)
	require.NoError(t, err)
	assert.True(t, src.IsValid)

	combined, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.7, nil)
	require.NoError(t, err)
	assert.True(t, combined.IsValid)
	assert.Equal(t, "BTC/USDT", combined.Symbol)

	again, err := v.ValidateFrom("rule_based", "BTC/USDT", types.DirectionBuy, 0.72, nil)
	require.NoError(t, err)
	assert.True(t, again.WasDuplicate)
}

func TestValidator_NilMetricsTrustsConfidence(t *testing.T) {
	v := newTestValidator(newFakeClock())
	res, err := v.Validate("BTC/USDT", types.DirectionSell, 0.9, nil)
	require.NoError(t, err)
	assert.Equal(t, types.DirectionSell, res.Signal)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Empty(t, res.Contradictions)
}

func TestValidator_StatsAndReset(t *testing.T) {
	v := newTestValidator(newFakeClock())
	_, _ = v.Validate("BTC/USDT", types.DirectionBuy, 0.7, nil)
	_, _ = v.Validate("ETH/USDT", types.DirectionBuy, 0.7, nil)
	_, _ = v.Validate("ETH/USDT", types.DirectionSell, 0.7, &types.Metrics{RSI: 20})

	stats := v.Stats()
	assert.Equal(t, 2, stats.TotalValidated)
	assert.Equal(t, 1, stats.RejectedContradictions)
	assert.Equal(t, 2, stats.TrackedSymbols)
	assert.Equal(t, 15, stats.DuplicateWindowMinutes)

	v.ResetStats()
	stats = v.Stats()
	assert.Zero(t, stats.TotalValidated)
	assert.Zero(t, stats.RejectedContradictions)
	assert.Equal(t, 2, stats.TrackedSymbols)
}

func TestValidator_CustomRules(t *testing.T) {
	volumeDrought := Rule{
		Name:      "buy_without_volume",
		Direction: types.DirectionBuy,
		Severity:  SeverityCritical,
		Applies:   func(m types.Metrics) bool { return m.VolumeRatio < 0.2 },
	}
	v := NewValidator(DefaultConfig(), WithClock(newFakeClock().Now), WithRules([]Rule{volumeDrought}))

	res, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.9, &types.Metrics{RSI: 90, VolumeRatio: 0.1})
	require.NoError(t, err)
	assert.True(t, res.Rejected())
	require.Len(t, res.Contradictions, 1)
	assert.Contains(t, res.Contradictions[0], "buy_without_volume")
}

func TestValidator_ConcurrentDuplicatesAcceptOnce(t *testing.T) {
	v := newTestValidator(newFakeClock())

	var wg sync.WaitGroup
	results := make(chan *ValidationResult, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := v.Validate("BTC/USDT", types.DirectionBuy, 0.7, nil)
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for res := range results {
		if res.IsValid {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, historyLen(v, "BTC/USDT"))
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	byName := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}

	tests := []struct {
		rule  string
		dir   types.Direction
		m     types.Metrics
		match bool
	}{
		{"sell_oversold", types.DirectionSell, types.Metrics{RSI: 34}, true},
		{"sell_oversold", types.DirectionSell, types.Metrics{RSI: 35}, false},
		{"sell_oversold", types.DirectionBuy, types.Metrics{RSI: 20}, false},
		{"buy_overbought", types.DirectionBuy, types.Metrics{RSI: 76}, true},
		{"sell_bullish_macd", types.DirectionSell, types.Metrics{MACDHistogram: 0.0006}, true},
		{"buy_bearish_macd_selloff", types.DirectionBuy, types.Metrics{MACDHistogram: -0.002, PriceChange24h: -4}, false},
		{"sell_into_rally", types.DirectionSell, types.Metrics{RSI: 56, PriceChange24h: 15}, false},
		{"sell_bullish_crossover", types.DirectionSell, types.Metrics{MACDLine: 0, MACDSignal: 0.1, MACDHistogram: 0.002}, false},
		{"sell_bullish_crossover", types.DirectionSell, types.Metrics{MACDLine: 0.2, MACDSignal: 0.1, MACDHistogram: 0.002}, true},
		{"buy_bearish_crossover", types.DirectionBuy, types.Metrics{MACDLine: -0.2, MACDSignal: -0.1, MACDHistogram: -0.002}, true},
	}
	for _, tt := range tests {
		r, ok := byName[tt.rule]
		require.True(t, ok, tt.rule)
		assert.Equal(t, tt.match, r.Match(tt.dir, tt.m), "%s %+v", tt.rule, tt.m)
	}
}
