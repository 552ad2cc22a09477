package handlers

import (
	"context"
	"fmt"

	"sajda/internal/messages"
)

func (h *Handler) HandleCommand(ctx context.Context, chatID int64, cmd string) {
	switch cmd {
	case "start":
		h.HandleStart(ctx, chatID)
	case "stop":
		h.HandleStop(ctx, chatID)
	case "next":
		h.HandleNext(chatID)
	case "today":
		h.HandleToday(chatID)
	case "location":
		h.HandleLocation(chatID)
	case "help":
		h.send(chatID, txtHelp)
	default:
		h.send(chatID, txtUnknown)
	}
}

// ---------------- /start --------------------
func (h *Handler) HandleStart(ctx context.Context, chatID int64) {
	if err := h.chats.UpsertChat(ctx, chatID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("register chat")
		h.send(chatID, txtFailed)
		return
	}
	h.log.Info().Int64("chat_id", chatID).Msg("chat subscribed")
	h.sendWith(chatID, txtWelcome, mainKeyboard)
}

// ---------------- /stop ---------------------
func (h *Handler) HandleStop(ctx context.Context, chatID int64) {
	if err := h.chats.DeleteChat(ctx, chatID); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("unregister chat")
		h.send(chatID, txtFailed)
		return
	}
	h.log.Info().Int64("chat_id", chatID).Msg("chat unsubscribed")
	h.sendWith(chatID, txtBye, removeKeyboard)
}

func (h *Handler) HandleNext(chatID int64) {
	h.sendWith(chatID, messages.NextText(h.schedule.Snapshot().Next), nextKeyboard)
}

func (h *Handler) HandleToday(chatID int64) {
	zone, _ := h.zones.Current()
	h.send(chatID, messages.TodayText(h.schedule.Snapshot().Today, zone.Zone))
}

func (h *Handler) HandleLocation(chatID int64) {
	h.sendWith(chatID, h.locationText(), locationKeyboard)
}

func (h *Handler) locationText() string {
	zone, ok := h.zones.Current()
	if !ok {
		return txtNoZone
	}
	return fmt.Sprintf("%s %s\n%.4f, %.4f", zone.Code, zone.DisplayName, zone.Latitude, zone.Longitude)
}
