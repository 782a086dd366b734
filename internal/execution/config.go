package execution

import (
	"fmt"
	"time"
)

// Config holds executor tunables
type Config struct {
	PollIntervalSeconds    float64 `json:"poll_interval_seconds" toml:"poll_interval_seconds"`
	CallTimeoutSeconds     float64 `json:"call_timeout_seconds" toml:"call_timeout_seconds"`
	StopSlippage           float64 `json:"stop_slippage" toml:"stop_slippage"` // limit offset past the stop trigger
	ValidateBalance        bool    `json:"validate_balance" toml:"validate_balance"`
	PollWorkers            int     `json:"poll_workers" toml:"poll_workers"`
	RequestsPerSecond      float64 `json:"requests_per_second" toml:"requests_per_second"`
	RequestBurst           int     `json:"request_burst" toml:"request_burst"`
	BreakerFailures        uint32  `json:"breaker_failures" toml:"breaker_failures"`
	BreakerCooldownSeconds float64 `json:"breaker_cooldown_seconds" toml:"breaker_cooldown_seconds"`
	HistorySize            int     `json:"history_size" toml:"history_size"`

	// ProtectionRetries bounds how often the monitor re-places a missing leg
	ProtectionRetries int `json:"protection_retries" toml:"protection_retries"`
}

func DefaultConfig() Config {
	return Config{
		PollIntervalSeconds:    5,
		CallTimeoutSeconds:     10,
		StopSlippage:           0.005,
		ValidateBalance:        true,
		PollWorkers:            8,
		RequestsPerSecond:      10,
		RequestBurst:           10,
		BreakerFailures:        5,
		BreakerCooldownSeconds: 30,
		HistorySize:            1000,
		ProtectionRetries:      3,
	}
}

func (c Config) Validate() error {
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive, got %v", c.PollIntervalSeconds)
	}
	if c.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("call_timeout_seconds must be positive, got %v", c.CallTimeoutSeconds)
	}
	if c.StopSlippage < 0 || c.StopSlippage >= 0.5 {
		return fmt.Errorf("stop_slippage must be in [0, 0.5), got %v", c.StopSlippage)
	}
	if c.PollWorkers < 1 {
		return fmt.Errorf("poll_workers must be at least 1, got %d", c.PollWorkers)
	}
	if c.ProtectionRetries < 0 {
		return fmt.Errorf("protection_retries must not be negative, got %d", c.ProtectionRetries)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", c.HistorySize)
	}
	return nil
}

func (c Config) PollInterval() time.Duration { return seconds(c.PollIntervalSeconds) }
func (c Config) CallTimeout() time.Duration  { return seconds(c.CallTimeoutSeconds) }

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
