package store

import (
	"sort"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
)

// OrderRecord is one finished order unit with its protective legs.
type OrderRecord struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Symbol       string    `gorm:"type:varchar(32);not null;index:idx_order_symbol" json:"symbol"`
	Side         string    `gorm:"type:varchar(8);not null" json:"side"`
	Type         string    `gorm:"type:varchar(16);not null" json:"type"`
	Amount       float64   `gorm:"not null" json:"amount"`
	Price        float64   `json:"price"`
	EntryID      string    `gorm:"type:varchar(64);not null" json:"entry_id"`
	Status       string    `gorm:"type:varchar(24);not null;index:idx_order_status" json:"status"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	StopLossID   string    `gorm:"type:varchar(64)" json:"stop_loss_id"`
	TakeProfitID string    `gorm:"type:varchar(64)" json:"take_profit_id"`
	Protection   string    `gorm:"type:varchar(24)" json:"protection"`
	FilledAmount float64   `json:"filled_amount"`
	FillPrice    float64   `json:"fill_price"`
	LegErrors    string    `gorm:"type:text" json:"leg_errors"`
	PlacedAt     time.Time `gorm:"index:idx_order_placed" json:"placed_at"`
	CompletedAt  time.Time `json:"completed_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OrderRecord) TableName() string {
	return "signal_bot_orders"
}

// TradeRecord is a closed position with its realized P&L.
type TradeRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol     string    `gorm:"type:varchar(32);not null;index:idx_trade_symbol" json:"symbol"`
	Side       string    `gorm:"type:varchar(8);not null" json:"side"`
	Amount     float64   `gorm:"not null" json:"amount"`
	EntryPrice float64   `gorm:"not null" json:"entry_price"`
	ExitPrice  float64   `gorm:"not null" json:"exit_price"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `gorm:"type:varchar(16)" json:"exit_reason"` // stop_loss, take_profit or manual
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `gorm:"index:idx_trade_closed" json:"closed_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "signal_bot_trades"
}

// NewOrderRecord flattens a managed order into its table row
func NewOrderRecord(mo execution.ManagedOrder) OrderRecord {
	return OrderRecord{
		ID:           mo.ID,
		Symbol:       mo.Symbol,
		Side:         string(mo.Side),
		Type:         string(mo.Type),
		Amount:       mo.Amount,
		Price:        mo.Price,
		EntryID:      mo.EntryID,
		Status:       string(mo.Status),
		StopLoss:     mo.StopLoss,
		TakeProfit:   mo.TakeProfit,
		StopLossID:   mo.StopLossID,
		TakeProfitID: mo.TakeProfitID,
		Protection:   string(mo.Protection),
		FilledAmount: mo.FilledAmount,
		FillPrice:    mo.FillPrice,
		LegErrors:    joinLegErrors(mo.LegErrors),
		PlacedAt:     mo.CreatedAt,
		CompletedAt:  mo.CompletedAt,
	}
}

func joinLegErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return ""
	}
	legs := make([]string, 0, len(errs))
	for leg := range errs {
		legs = append(legs, leg)
	}
	sort.Strings(legs)
	parts := make([]string, len(legs))
	for i, leg := range legs {
		parts[i] = leg + ": " + errs[leg]
	}
	return strings.Join(parts, "; ")
}
