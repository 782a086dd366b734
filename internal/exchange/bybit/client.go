package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Client wraps the Bybit v5 HTTP client
type Client struct {
	httpClient  *bybit_api.Client
	testnet     bool
	demo        bool
	retry       RetryConfig
	instruments *InstrumentManager
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool // demo trading environment
	Retry     *RetryConfig
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	var baseURL string
	switch {
	case config.Demo:
		baseURL = demoBaseURL
	case config.Testnet:
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}

	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	retry := DefaultRetryConfig()
	if config.Retry != nil {
		retry = *config.Retry
	}

	c := &Client{
		httpClient: httpClient,
		testnet:    config.Testnet,
		demo:       config.Demo,
		retry:      retry,
	}
	c.instruments = NewInstrumentManager(c)
	return c
}

// Instruments returns the cached instrument metadata lookup
func (c *Client) Instruments() *InstrumentManager {
	return c.instruments
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}
