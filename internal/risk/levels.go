package risk

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// DefaultStopLoss places a stop DefaultStopPct away from entry on the losing side.
func (c Config) DefaultStopLoss(entry float64, side types.Side) float64 {
	if side == types.SideSell {
		return entry * (1 + c.DefaultStopPct)
	}
	return entry * (1 - c.DefaultStopPct)
}

// TakeProfitFor places the target at MinRiskReward times the stop distance.
func (c Config) TakeProfitFor(entry, stopLoss float64, side types.Side) float64 {
	reward := abs(entry-stopLoss) * c.MinRiskReward
	if side == types.SideSell {
		return entry - reward
	}
	return entry + reward
}

// TrailingStop ratchets a stop TrailingPct behind price. A long stop only moves
// up and never sits below 1% under entry; a short stop mirrors that.
func (c Config) TrailingStop(price, entry, currentStop float64, side types.Side) float64 {
	if side == types.SideSell {
		stop := price * (1 + c.TrailingPct)
		if currentStop > 0 {
			stop = math.Min(stop, currentStop)
		}
		return math.Min(stop, entry*1.01)
	}
	stop := price * (1 - c.TrailingPct)
	stop = math.Max(stop, currentStop)
	return math.Max(stop, entry*0.99)
}

// ValidateRiskReward rejects a setup with no risk or too little reward for it.
func (c Config) ValidateRiskReward(entry, stopLoss, takeProfit float64) error {
	risk := abs(entry - stopLoss)
	if risk == 0 {
		return fmt.Errorf("stop loss %v equals entry", stopLoss)
	}
	if (stopLoss-entry)*(takeProfit-entry) >= 0 {
		return fmt.Errorf("stop loss %v and take profit %v are on the same side of entry %v", stopLoss, takeProfit, entry)
	}
	rr := abs(takeProfit-entry) / risk
	if rr < c.MinRiskReward-1e-9 {
		return fmt.Errorf("risk/reward %.2f below minimum %.2f", rr, c.MinRiskReward)
	}
	return nil
}
