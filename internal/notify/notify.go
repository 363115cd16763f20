package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// maxMessageLen is Telegram's limit on a text message, in characters.
const maxMessageLen = 4096

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(ctx context.Context, text string) error { return nil }

// Sender is the part of tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to a single chat.
type Telegram struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

func NewTelegram(bot Sender, chatID int64, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log.With().Str("component", "notify").Logger()}
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxMessageLen {
		text = string([]rune(text)[:maxMessageLen-3]) + "..."
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		t.log.Error().Err(err).Int64("chat_id", t.chatID).Msg("Failed to send alert")
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

// New returns a Telegram notifier when a bot token and chat are configured,
// Nop otherwise.
func New(token string, chatID int64, log zerolog.Logger) (Notifier, error) {
	if token == "" || chatID == 0 {
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegram(bot, chatID, log), nil
}
