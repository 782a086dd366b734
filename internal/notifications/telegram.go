package notifications

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
	title  string
}

type TelegramOption func(*TelegramNotifier)

func WithTitle(title string) TelegramOption {
	return func(t *TelegramNotifier) {
		if title != "" {
			t.title = title
		}
	}
}

func WithTimeout(seconds int) TelegramOption {
	return func(t *TelegramNotifier) {
		if seconds > 0 {
			t.client.SetTimeout(time.Duration(seconds) * time.Second)
		}
	}
}

// WithBaseURL points the notifier at another Bot API host
func WithBaseURL(url string) TelegramOption {
	return func(t *TelegramNotifier) { t.client.SetBaseURL(url) }
}

func NewTelegramNotifier(token, chatID string, opts ...TelegramOption) *TelegramNotifier {
	client := resty.New()
	client.SetBaseURL(telegramAPI)
	client.SetTimeout(10 * time.Second)

	t := &TelegramNotifier{
		client: client,
		token:  token,
		chatID: chatID,
		title:  "Signal Bot Alert",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) SendAlert(level, message string) error {
	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelError:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, t.title, message)

	var result telegramResponse
	resp, err := t.client.R().
		SetFormData(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		SetResult(&result).
		SetError(&result).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}

	if resp.StatusCode() != 200 || !result.OK {
		if result.Description != "" {
			return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode(), result.Description)
		}
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode())
	}

	return nil
}
