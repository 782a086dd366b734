// Package config loads the bot configuration from JSON or TOML and the
// exchange and chat credentials from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	boterrors "github.com/ducminhle1904/crypto-signal-bot/internal/errors"
	"github.com/ducminhle1904/crypto-signal-bot/internal/events"
	"github.com/ducminhle1904/crypto-signal-bot/internal/exchange"
	"github.com/ducminhle1904/crypto-signal-bot/internal/execution"
	"github.com/ducminhle1904/crypto-signal-bot/internal/intake"
	"github.com/ducminhle1904/crypto-signal-bot/internal/integrator"
	"github.com/ducminhle1904/crypto-signal-bot/internal/logger"
	"github.com/ducminhle1904/crypto-signal-bot/internal/notifications"
	"github.com/ducminhle1904/crypto-signal-bot/internal/pipeline"
	"github.com/ducminhle1904/crypto-signal-bot/internal/risk"
	"github.com/ducminhle1904/crypto-signal-bot/internal/signals"
	"github.com/ducminhle1904/crypto-signal-bot/internal/store"
)

// Config represents the complete configuration of the signal bot
type Config struct {
	Exchange      exchange.Config      `json:"exchange" toml:"exchange"`
	Account       AccountConfig        `json:"account" toml:"account"`
	Signals       signals.Config       `json:"signals" toml:"signals"`
	Integrator    integrator.Config    `json:"integrator" toml:"integrator"`
	Risk          risk.Config          `json:"risk" toml:"risk"`
	Execution     execution.Config     `json:"execution" toml:"execution"`
	Pipeline      pipeline.Config      `json:"pipeline" toml:"pipeline"`
	Intake        IntakeConfig         `json:"intake" toml:"intake"`
	Events        events.Config        `json:"events" toml:"events"`
	Store         store.Config         `json:"store" toml:"store"`
	Logger        logger.Config        `json:"logger" toml:"logger"`
	Monitoring    MonitoringConfig     `json:"monitoring" toml:"monitoring"`
	Notifications notifications.Config `json:"notifications" toml:"notifications"`
}

// AccountConfig says which balance the risk manager starts from
type AccountConfig struct {
	QuoteAsset string `json:"quote_asset" toml:"quote_asset"`
	// InitialBalance overrides the exchange balance when positive
	InitialBalance float64 `json:"initial_balance" toml:"initial_balance"`
}

// IntakeConfig selects where signals come from. File wins when both are set.
type IntakeConfig struct {
	File  string             `json:"file" toml:"file"` // JSON lines, one message per line
	Kafka intake.KafkaConfig `json:"kafka" toml:"kafka"`
}

type MonitoringConfig struct {
	Addr              string  `json:"addr" toml:"addr"` // empty disables the HTTP server
	StaleAfterSeconds float64 `json:"stale_after_seconds" toml:"stale_after_seconds"`
}

func (m MonitoringConfig) StaleAfter() time.Duration {
	return time.Duration(m.StaleAfterSeconds * float64(time.Second))
}

// Credentials are never read from the config file
type Credentials struct {
	BybitAPIKey      string
	BybitAPISecret   string
	TelegramBotToken string
	TelegramChatID   string
}

// Default returns a paper-trading configuration with every tunable at its default
func Default() *Config {
	return &Config{
		Exchange: exchange.Config{
			Name: "paper",
			Paper: &exchange.PaperConfig{
				Balances:   map[string]float64{"USDT": 10000},
				FillMarket: true,
			},
		},
		Account:       AccountConfig{QuoteAsset: "USDT"},
		Signals:       signals.DefaultConfig(),
		Integrator:    integrator.DefaultConfig(),
		Risk:          risk.DefaultConfig(),
		Execution:     execution.DefaultConfig(),
		Pipeline:      pipeline.DefaultConfig(),
		Intake:        IntakeConfig{Kafka: intake.DefaultKafkaConfig()},
		Events:        events.DefaultConfig(),
		Store:         store.DefaultConfig(),
		Logger:        logger.DefaultConfig(),
		Monitoring:    MonitoringConfig{Addr: ":8080", StaleAfterSeconds: 300},
		Notifications: notifications.DefaultConfig(),
	}
}

// Load reads a .toml or .json file over the defaults, then validates it.
// A bare name is looked up in the configs/ directory.
func Load(path string) (*Config, error) {
	if !strings.ContainsAny(path, "/\\") {
		path = filepath.Join("configs", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults fills zero values a partial file left behind
func (c *Config) setDefaults() {
	c.Exchange.Name = strings.ToLower(strings.TrimSpace(c.Exchange.Name))
	if c.Exchange.Name == "" {
		c.Exchange.Name = "paper"
	}
	if c.Exchange.Name == "bybit" && c.Exchange.Bybit == nil {
		c.Exchange.Bybit = &exchange.BybitConfig{Category: "spot", AccountType: "UNIFIED"}
	}
	if c.Account.QuoteAsset == "" {
		c.Account.QuoteAsset = "USDT"
	}
	c.Account.QuoteAsset = strings.ToUpper(c.Account.QuoteAsset)
	if c.Pipeline.OrderType == "" {
		c.Pipeline.OrderType = pipeline.DefaultConfig().OrderType
	}
	if c.Monitoring.StaleAfterSeconds <= 0 {
		c.Monitoring.StaleAfterSeconds = 300
	}
	if c.Notifications.TimeoutS <= 0 {
		c.Notifications.TimeoutS = notifications.DefaultConfig().TimeoutS
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = events.DefaultConfig().SubjectPrefix
	}
}

// Validate checks every section and reports the first problem found
func (c *Config) Validate() error {
	invalid := func(section string, err error) error {
		return boterrors.WrapError(err, boterrors.ErrorCategoryConfiguration, "config", section).
			WithMessage("invalid " + section + " section")
	}

	switch c.Exchange.Name {
	case "paper", "bybit":
	default:
		return invalid("exchange", fmt.Errorf("unsupported exchange %q", c.Exchange.Name))
	}
	if c.Account.InitialBalance < 0 {
		return invalid("account", fmt.Errorf("initial_balance must not be negative"))
	}
	ic := c.Integrator
	if ic.RuleWeight < 0 || ic.ModelWeight < 0 || ic.RuleWeight+ic.ModelWeight == 0 {
		return invalid("integrator", fmt.Errorf("source weights must be non-negative and not both zero"))
	}
	if ic.RuleThreshold <= 0 || ic.RuleThreshold > 1 || ic.ModelThreshold <= 0 || ic.ModelThreshold > 1 {
		return invalid("integrator", fmt.Errorf("thresholds must be in (0, 1]"))
	}

	checks := []struct {
		section string
		fn      func() error
	}{
		{"risk", c.Risk.Validate},
		{"execution", c.Execution.Validate},
		{"pipeline", c.Pipeline.Validate},
		{"intake", c.Intake.Kafka.Validate},
		{"store", c.Store.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return invalid(check.section, err)
		}
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return invalid("events", fmt.Errorf("nats url is required"))
	}
	return nil
}

// LoadCredentials reads the env file, when present, and then the process
// environment. Values already set in the environment win.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Credentials{}, boterrors.WrapError(err, boterrors.ErrorCategoryCredentials, "config", "load_env")
		}
	}
	return Credentials{
		BybitAPIKey:      os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:   os.Getenv("BYBIT_API_SECRET"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}, nil
}

// Apply copies credentials into the sections that need them
func (c *Config) Apply(cred Credentials) error {
	if c.Exchange.Name == "bybit" {
		if cred.BybitAPIKey == "" || cred.BybitAPISecret == "" {
			return boterrors.NewCredentialsError("config", "apply",
				"BYBIT_API_KEY and BYBIT_API_SECRET are required for the bybit exchange")
		}
		c.Exchange.Bybit.APIKey = cred.BybitAPIKey
		c.Exchange.Bybit.APISecret = cred.BybitAPISecret
	}
	c.Notifications.BotToken = cred.TelegramBotToken
	c.Notifications.ChatID = cred.TelegramChatID
	return nil
}
