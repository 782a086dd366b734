package adapters

import (
	"fmt"
	"strings"

	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange/paper"
)

// Factory creates exchange gateways based on configuration
type Factory struct{}

// NewFactory creates a new exchange factory instance
func NewFactory() *Factory {
	return &Factory{}
}

// CreateExchange creates a gateway for the configured backend
func (f *Factory) CreateExchange(config exchange.Config) (exchange.Gateway, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch normalizeName(config.Name) {
	case "bybit":
		adapter, err := NewBybitAdapter(config.Bybit)
		if err != nil {
			return nil, &exchange.ExchangeError{
				Code:    "ADAPTER_CREATION_FAILED",
				Message: "Failed to create Bybit adapter",
				Details: err.Error(),
			}
		}
		return adapter, nil
	default:
		cfg := exchange.PaperConfig{FillMarket: true}
		if config.Paper != nil {
			cfg = *config.Paper
		}
		return paper.New(cfg), nil
	}
}

// GetSupportedExchanges returns a list of supported exchange names
func (f *Factory) GetSupportedExchanges() []string {
	return []string{"bybit", "paper"}
}

// ValidateConfig validates the exchange configuration
func (f *Factory) ValidateConfig(config exchange.Config) error {
	if config.Name == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_EXCHANGE_NAME",
			Message: "Exchange name is required",
		}
	}

	switch normalizeName(config.Name) {
	case "bybit":
		return f.validateBybitConfig(config.Bybit)
	case "paper":
		return nil
	default:
		return exchange.ErrUnsupportedExchange.WithDetails(
			fmt.Sprintf("%q, supported exchanges: %v", config.Name, f.GetSupportedExchanges()))
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// validateBybitConfig validates Bybit-specific configuration
func (f *Factory) validateBybitConfig(config *exchange.BybitConfig) error {
	if config == nil {
		return &exchange.ExchangeError{
			Code:    "MISSING_BYBIT_CONFIG",
			Message: "Bybit configuration is required",
		}
	}

	if config.APIKey == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_API_KEY",
			Message: "Bybit API key is required",
			Details: "Set BYBIT_API_KEY in the environment or .env file",
		}
	}

	if config.APISecret == "" {
		return &exchange.ExchangeError{
			Code:    "MISSING_API_SECRET",
			Message: "Bybit API secret is required",
			Details: "Set BYBIT_API_SECRET in the environment or .env file",
		}
	}

	if config.Testnet && config.Demo {
		return &exchange.ExchangeError{
			Code:    "INVALID_ENVIRONMENT_CONFIG",
			Message: "Cannot use both testnet and demo mode simultaneously",
			Details: "Choose either testnet OR demo mode, not both",
		}
	}

	switch config.Category {
	case "", "spot", "linear":
	default:
		return &exchange.ExchangeError{
			Code:    "INVALID_CATEGORY",
			Message: "Unsupported Bybit category",
			Details: config.Category,
		}
	}
	return nil
}
