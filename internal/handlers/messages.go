package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// HandleText routes the reply keyboard buttons.
func (h *Handler) HandleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch strings.TrimSpace(msg.Text) {
	case kbNext:
		h.HandleNext(chatID)
	case kbToday:
		h.HandleToday(chatID)
	case kbLocation:
		h.HandleLocation(chatID)
	case kbStop:
		h.send(chatID, h.stopAudio())
	default:
		h.send(chatID, txtHelp)
	}
}
