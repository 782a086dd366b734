package notifications

import "github.com/ducminhle1904/crypto-signal-bot/internal/logger"

// Alert levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

type Config struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Title    string `json:"title" toml:"title"`
	BotToken string `json:"-" toml:"-"`
	ChatID   string `json:"-" toml:"-"`
	TimeoutS int    `json:"timeout_seconds" toml:"timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{Title: "Signal Bot Alert", TimeoutS: 10}
}

// LogNotifier writes alerts to the log when no chat is configured
type LogNotifier struct{}

func (LogNotifier) SendAlert(level, message string) error {
	log := logger.Component("alerts")
	switch level {
	case LevelError:
		log.Error().Msg(message)
	case LevelWarning:
		log.Warn().Msg(message)
	default:
		log.Info().Msg(message)
	}
	return nil
}

// New returns a Telegram notifier when credentials are present and a log notifier otherwise
func New(cfg Config) Notifier {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return LogNotifier{}
	}
	return NewTelegramNotifier(cfg.BotToken, cfg.ChatID, WithTitle(cfg.Title), WithTimeout(cfg.TimeoutS))
}
