// Package handlers is the Telegram surface of the engine: chats subscribe with
// /start and can query the next prayer, today's times and the current zone.
package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sajda/internal/models"
	"sajda/internal/scheduler"
)

const relocateTimeout = time.Minute

// Bot is the part of *tgbotapi.BotAPI the handler uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Chats interface {
	UpsertChat(ctx context.Context, chatID int64) error
	DeleteChat(ctx context.Context, chatID int64) error
}

type Schedule interface {
	Snapshot() scheduler.Snapshot
}

type ZoneSource interface {
	Current() (models.CachedZone, bool)
}

type AudioControl interface {
	StopAudio() error
}

type Relocator interface {
	Resolve(ctx context.Context) models.LocationFix
}

type Options struct {
	Bot      Bot
	Chats    Chats
	Schedule Schedule
	Zones    ZoneSource
	Audio    AudioControl
	Relocate Relocator
	Logger   zerolog.Logger
}

type Handler struct {
	bot      Bot
	chats    Chats
	schedule Schedule
	zones    ZoneSource
	audio    AudioControl
	relocate Relocator
	log      zerolog.Logger
}

func New(opts Options) *Handler {
	return &Handler{
		bot:      opts.Bot,
		chats:    opts.Chats,
		schedule: opts.Schedule,
		zones:    opts.Zones,
		audio:    opts.Audio,
		relocate: opts.Relocate,
		log:      opts.Logger.With().Str("component", "telegram").Logger(),
	}
}

// Listen long-polls updates until ctx is done.
func (h *Handler) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := h.bot.GetUpdatesChan(u)
	defer h.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}

var mainKeyboard = tgbotapi.NewReplyKeyboard(
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(kbNext),
		tgbotapi.NewKeyboardButton(kbToday),
	),
	tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(kbLocation),
		tgbotapi.NewKeyboardButton(kbStop),
	),
)

var removeKeyboard = tgbotapi.NewRemoveKeyboard(false)

var nextKeyboard = tgbotapi.NewInlineKeyboardMarkup(
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Refresh", cbRefresh),
		tgbotapi.NewInlineKeyboardButtonData(kbStop, cbStopAudio),
	),
)

var locationKeyboard = tgbotapi.NewInlineKeyboardMarkup(
	tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Update location", cbRelocate),
	),
)

func (h *Handler) send(chatID int64, text string) {
	h.sendWith(chatID, text, nil)
}

func (h *Handler) sendWith(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.bot.Send(msg); err != nil {
		h.log.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}
