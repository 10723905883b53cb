package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends alerts to the alert's chat via the Bot API.
type TelegramNotifier struct {
	bot Sender
	log *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier over an existing bot.
func NewTelegramNotifier(bot Sender) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, log: slog.Default().With("component", "telegram-notify")}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.ChatID == 0 {
		return errors.New("telegram: alert has no chat id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	msg := tgbotapi.NewMessage(alert.ChatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", alert.ChatID, err)
	}
	t.log.Debug("sent alert", "chat_id", alert.ChatID, "title", alert.Title)
	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`, "~", `\~`, "`", "\\`",
	">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`,
	".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
