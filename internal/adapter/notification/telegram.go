// Package notification implements the channels pipeline outcomes are
// delivered to. Delivery is best-effort: the caller logs failures and
// never lets them abort a pipeline.
package notification

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dbackup/dbackup/internal/domain"
)

type TelegramAdapter struct{}

func NewTelegram() *TelegramAdapter {
	return &TelegramAdapter{}
}

func (t *TelegramAdapter) ID() string { return "telegram" }

func (t *TelegramAdapter) Validate(cfg domain.Settings) error {
	if cfg["bot_token"] == "" {
		return domain.NewConfigurationError("telegram: bot_token is required")
	}
	if _, err := strconv.ParseInt(cfg["chat_id"], 10, 64); err != nil {
		return domain.NewConfigurationError("telegram: chat_id must be a numeric id")
	}
	return nil
}

func (t *TelegramAdapter) Send(ctx context.Context, cfg domain.Settings, event domain.Event) error {
	bot, err := tgbotapi.NewBotAPI(cfg["bot_token"])
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	chatID, _ := strconv.ParseInt(cfg["chat_id"], 10, 64)

	msg := tgbotapi.NewMessage(chatID, formatEvent(event))
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func formatEvent(event domain.Event) string {
	icon := "✅"
	switch event.Kind {
	case domain.EventBackupFailed, domain.EventRestoreFailed:
		icon = "❌"
	}

	text := fmt.Sprintf("%s %s\n", icon, event.Kind)
	if event.JobName != "" {
		text += fmt.Sprintf("📁 Job: %s\n", event.JobName)
	}
	text += fmt.Sprintf("🆔 Execution: %s\n🕐 Time: %s",
		event.ExecutionID,
		event.At.Format("2006-01-02 15:04:05"),
	)
	if event.Message != "" {
		text += "\n" + event.Message
	}
	return text
}
