// Package reporting renders persisted order and trade history as Excel
// workbooks and console tables.
package reporting

import (
	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
)

// Summary aggregates closed trades
type Summary struct {
	Trades     int
	Wins       int
	Losses     int
	WinRate    float64 // fraction
	TotalPnL   float64
	BestTrade  float64
	WorstTrade float64
}

func Summarize(trades []store.TradeRecord) Summary {
	var s Summary
	for i, t := range trades {
		s.Trades++
		s.TotalPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if i == 0 || t.PnL > s.BestTrade {
			s.BestTrade = t.PnL
		}
		if i == 0 || t.PnL < s.WorstTrade {
			s.WorstTrade = t.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
	return s
}

// OrderCounts groups orders by final status
func OrderCounts(orders []store.OrderRecord) map[string]int {
	counts := make(map[string]int)
	for _, o := range orders {
		counts[o.Status]++
	}
	return counts
}
