package pipeline

import (
	"fmt"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

type Config struct {
	// UseKelly scales size by the historical Kelly fraction once enough trades closed
	UseKelly bool `json:"use_kelly" toml:"use_kelly"`

	// OrderType is the entry type used when a request does not name one
	OrderType types.OrderType `json:"order_type" toml:"order_type"`

	// Workers bounds concurrent symbol evaluations in the runner
	Workers int `json:"workers" toml:"workers"`

	// HookTimeoutSeconds bounds persistence of a completed order
	HookTimeoutSeconds float64 `json:"hook_timeout_seconds" toml:"hook_timeout_seconds"`

	// TrailStops ratchets the stop-loss leg of a filled position in profit
	// whenever a new price for its symbol arrives
	TrailStops bool `json:"trail_stops" toml:"trail_stops"`
}

func DefaultConfig() Config {
	return Config{
		UseKelly:           false,
		OrderType:          types.OrderTypeMarket,
		Workers:            8,
		HookTimeoutSeconds: 5,
		TrailStops:         true,
	}
}

func (c Config) Validate() error {
	switch c.OrderType {
	case types.OrderTypeMarket, types.OrderTypeLimit:
	default:
		return fmt.Errorf("entry order type must be market or limit, got %q", c.OrderType)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.HookTimeoutSeconds <= 0 {
		return fmt.Errorf("hook_timeout_seconds must be positive, got %v", c.HookTimeoutSeconds)
	}
	return nil
}
