package risk

// RiskManager is the account-wide gate between an integrated decision and the executor.
type RiskManager interface {
	// SizePosition converts risk budget and confidence into an amount in base units
	SizePosition(entry, stopLoss, confidence float64, useKelly bool) float64

	// TryOpen validates a trade and records the position in one step
	TryOpen(req TradeRequest, takeProfit float64) (Decision, error)

	// DiscardPosition drops a position that never reached the exchange
	DiscardPosition(symbol string) bool

	// ClosePosition realizes P&L for an exit
	ClosePosition(symbol string, exitPrice float64) (float64, error)

	// Config returns the limits in force
	Config() Config
}

var _ RiskManager = (*Manager)(nil)
