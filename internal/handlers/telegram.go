package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"studio-podcaster/internal/models"
	"studio-podcaster/internal/notify"
	"studio-podcaster/pkg/tasks"
)

// BotAPI is the part of tgbotapi.BotAPI the operator bot uses.
type BotAPI interface {
	notify.Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StartTelegramBot answers operator commands from admins until ctx is done.
func (h *Handlers) StartTelegramBot(ctx context.Context, bot BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil { // ignore any non-Message updates
				continue
			}
			h.handleTelegramMessage(ctx, bot, update.Message)
		}
	}
}

func (h *Handlers) handleTelegramMessage(ctx context.Context, bot notify.Sender, message *tgbotapi.Message) {
	if message.From == nil || !h.admins[message.From.ID] {
		h.log.Warn().Int64("chat_id", message.Chat.ID).Msg("Ignoring message from non-admin")
		return
	}
	if !message.IsCommand() {
		h.reply(bot, message.Chat.ID, "Send /episodes or /regenerate")
		return
	}

	switch message.Command() {
	case "episodes":
		h.handleEpisodesCommand(ctx, bot, message)
	case "regenerate":
		h.handleRegenerateCommand(ctx, bot, message)
	default:
		h.reply(bot, message.Chat.ID, "I don't know that command")
	}
}

func (h *Handlers) handleEpisodesCommand(ctx context.Context, bot notify.Sender, message *tgbotapi.Message) {
	episodes, err := h.store.ListEpisodes(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Error listing episodes")
		h.reply(bot, message.Chat.ID, "Internal server error")
		return
	}
	if len(episodes) == 0 {
		h.reply(bot, message.Chat.ID, "No episodes yet.")
		return
	}

	var b strings.Builder
	for _, e := range episodes {
		fmt.Fprintf(&b, "%s %s: %s\n", stateMarker(e), e.ID, e.State())
	}
	h.reply(bot, message.Chat.ID, b.String())
}

func stateMarker(e models.Episode) string {
	switch e.State() {
	case "ready":
		return "✅"
	case "ready_without_metadata":
		return "☑️"
	case models.StatusError:
		return "❌"
	default:
		return "⏳"
	}
}

func (h *Handlers) handleRegenerateCommand(ctx context.Context, bot notify.Sender, message *tgbotapi.Message) {
	task, err := tasks.NewRegenerateFeedTask("telegram", "")
	if err == nil {
		_, err = h.asynqClient.EnqueueContext(ctx, task)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Error enqueuing feed task")
		h.reply(bot, message.Chat.ID, "Internal server error")
		return
	}
	h.reply(bot, message.Chat.ID, "Feed rebuild queued.")
}

func (h *Handlers) reply(bot notify.Sender, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("Error sending telegram reply")
	}
}
