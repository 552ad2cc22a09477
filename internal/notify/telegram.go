package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sajda/internal/errors"
)

// Sender is the part of *tgbotapi.BotAPI used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type ChatLister interface {
	ListChats(ctx context.Context) ([]int64, error)
}

// TelegramNotifier sends every notification to the registered chats.
type TelegramNotifier struct {
	bot   Sender
	chats ChatLister
	log   zerolog.Logger
}

func NewTelegramNotifier(bot Sender, chats ChatLister, l zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chats: chats, log: l.With().Str("component", "telegram").Logger()}
}

func (n *TelegramNotifier) Notify(ctx context.Context, title, body string) error {
	ids, err := n.chats.ListChats(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		msg := tgbotapi.NewMessage(id, "*"+tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, title)+"*\n"+
			tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, body))
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		if _, err := n.bot.Send(msg); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", id).Msg("send failed")
			errs = append(errs, errors.Wrapf(err, "telegram chat %d", id))
		}
	}
	return errors.Join(errs...)
}
