package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the subset of *tgbotapi.BotAPI used by Telegram.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram mirrors staff pings to a Telegram chat.
type Telegram struct {
	bot    TelegramSender
	chatID int64
}

// NewTelegram authorizes a bot token and returns a staff mirror for chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatID), nil
}

// NewTelegramWithSender creates a staff mirror over an existing sender.
func NewTelegramWithSender(bot TelegramSender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Notify forwards notifications that ping staff; others are ignored.
func (t *Telegram) Notify(_ context.Context, n Notification) error {
	if !n.PingStaff {
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatPlain(n))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (t *Telegram) Name() string {
	return "telegram"
}

// FormatPlain renders a notification as plain text: title, channel, body.
func FormatPlain(n Notification) string {
	var b strings.Builder
	if n.Title != "" {
		b.WriteString(n.Title)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Ticket %s\n\n", n.ChannelID)
	b.WriteString(n.Text)
	return b.String()
}

var _ Sink = (*Telegram)(nil)
