package exchange

import (
	"context"
	"time"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// Gateway is the exchange surface the executor depends on. Implementations
// speak in "BASE/QUOTE" symbols and exchange-neutral statuses; nothing above
// this layer inspects venue-specific fields.
type Gateway interface {
	Name() string

	// FetchBalance returns the amount of currency available for new orders.
	// Callers must not cache the result beyond a single decision.
	FetchBalance(ctx context.Context, currency string) (float64, error)

	CreateOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (*OrderState, error)
}

// OrderRequest describes one exchange order. For stop-limit orders StopPrice
// is the trigger and Price the limit placed once triggered.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"`
	Type       types.OrderType `json:"type"`
	Amount     float64         `json:"amount"`
	Price      float64         `json:"price,omitempty"`
	StopPrice  float64         `json:"stop_price,omitempty"`
	ReduceOnly bool            `json:"reduce_only,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
}

// OrderAck is what the exchange returns on acceptance
type OrderAck struct {
	ID       string            `json:"id"`
	ClientID string            `json:"client_id,omitempty"`
	Status   types.OrderStatus `json:"status"`
}

// OrderState is the polled view of an order
type OrderState struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Status       types.OrderStatus `json:"status"`
	FilledAmount float64           `json:"filled_amount"`
	FillPrice    float64           `json:"fill_price"` // average, zero until something fills
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Config selects and configures the exchange backend
type Config struct {
	Name  string       `json:"name" toml:"name"` // bybit or paper
	Bybit *BybitConfig `json:"bybit,omitempty" toml:"bybit"`
	Paper *PaperConfig `json:"paper,omitempty" toml:"paper"`
}

// BybitConfig holds Bybit-specific configuration. Credentials come from the
// environment, never from the config file.
type BybitConfig struct {
	APIKey      string `json:"-" toml:"-"`
	APISecret   string `json:"-" toml:"-"`
	Testnet     bool   `json:"testnet" toml:"testnet"`
	Demo        bool   `json:"demo" toml:"demo"`
	Category    string `json:"category" toml:"category"`         // spot, linear
	AccountType string `json:"account_type" toml:"account_type"` // UNIFIED, SPOT
}

// PaperConfig configures the in-memory exchange used for dry runs
type PaperConfig struct {
	Balances map[string]float64 `json:"balances" toml:"balances"`
	Prices   map[string]float64 `json:"prices" toml:"prices"`
	// FillMarket fills market orders immediately at the reference price
	FillMarket bool `json:"fill_market" toml:"fill_market"`
}
