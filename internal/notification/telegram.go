package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMessage = 4096

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Enabled  bool
	Endpoint string // API endpoint format; empty means tgbotapi.APIEndpoint
}

// TelegramNotifier sends notifications through a Telegram bot
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authorizes the bot. It fails when the token is rejected.
func NewTelegramNotifier(config TelegramConfig) (*TelegramNotifier, error) {
	if !config.Enabled || config.BotToken == "" || config.ChatID == 0 {
		return &TelegramNotifier{}, nil
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: config.ChatID}, nil
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.bot != nil && t.chatID != 0
}

func (t *TelegramNotifier) Send(ctx context.Context, notification *Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, truncate(notification.Text(), telegramMaxMessage))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
