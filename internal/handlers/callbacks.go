package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"sajda/internal/messages"
)

func (h *Handler) HandleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	msgID := cq.Message.MessageID

	answer := ""
	switch cq.Data {
	case cbStopAudio:
		answer = h.stopAudio()
	case cbRefresh:
		h.edit(chatID, msgID, messages.NextText(h.schedule.Snapshot().Next), nextKeyboard)
	case cbRelocate:
		answer = txtRelocating
		go h.handleRelocate(context.WithoutCancel(ctx), chatID, msgID)
	}

	// always answer to clear the button spinner
	if _, err := h.bot.Request(tgbotapi.NewCallback(cq.ID, answer)); err != nil {
		h.log.Debug().Err(err).Msg("answer callback")
	}
}

func (h *Handler) stopAudio() string {
	if err := h.audio.StopAudio(); err != nil {
		h.log.Warn().Err(err).Msg("stop audio")
		return txtFailed
	}
	return txtAudioOff
}

func (h *Handler) handleRelocate(ctx context.Context, chatID int64, msgID int) {
	ctx, cancel := context.WithTimeout(ctx, relocateTimeout)
	defer cancel()

	fix := h.relocate.Resolve(ctx)
	h.log.Info().Str("source", string(fix.Source)).Int64("chat_id", chatID).Msg("location refreshed from chat")
	h.edit(chatID, msgID, h.locationText(), locationKeyboard)
}

func (h *Handler) edit(chatID int64, msgID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	cfg := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, kb)
	if _, err := h.bot.Request(cfg); err != nil {
		// "message is not modified" lands here when nothing changed
		h.log.Debug().Err(err).Int64("chat_id", chatID).Msg("edit message")
	}
}
