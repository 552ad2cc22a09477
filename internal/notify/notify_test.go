package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sajda/internal/errors"
	"sajda/internal/models"
)

type notifyFunc func(ctx context.Context, title, body string) error

func (f notifyFunc) Notify(ctx context.Context, title, body string) error { return f(ctx, title, body) }

func TestFanoutCallsAllAndJoinsErrors(t *testing.T) {
	var got []string
	ok := notifyFunc(func(_ context.Context, title, _ string) error {
		got = append(got, title)
		return nil
	})
	bad := notifyFunc(func(context.Context, string, string) error { return errors.New("boom") })

	err := Fanout{ok, bad, nil, ok}.Notify(context.Background(), "Sajda", "body")
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"Sajda", "Sajda"}, got)

	assert.NoError(t, Fanout{ok}.Notify(context.Background(), "x", "y"))
}

func TestLogPlayer(t *testing.T) {
	p := NewLogPlayer("resources/audio", zerolog.Nop())
	require.NoError(t, p.Play(context.Background(), "Nasser.mp3", models.Dhuhr))
	assert.Equal(t, "resources/audio/Nasser.mp3", p.Playing())

	require.NoError(t, p.Stop())
	assert.Empty(t, p.Playing())
	assert.Error(t, p.Play(context.Background(), "", models.Dhuhr))
}

// ---------- telegram --------------------------------------------------------

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	fail map[int64]bool
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	if s.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("forbidden: bot was blocked by the user")
	}
	s.sent = append(s.sent, msg)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

type staticChats []int64

func (c staticChats) ListChats(context.Context) ([]int64, error) { return c, nil }

func TestTelegramNotifierSendsToAllChats(t *testing.T) {
	bot := &fakeSender{fail: map[int64]bool{2: true}}
	n := NewTelegramNotifier(bot, staticChats{1, 2, 3}, zerolog.Nop())

	err := n.Notify(context.Background(), "Jumu'ah Mubarak", "Don't forget to read Surah Al-Kahf today.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 2")

	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(1), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdownV2, bot.sent[0].ParseMode)
	assert.Contains(t, bot.sent[0].Text, "Al\\-Kahf")
}

// ---------- mqtt ------------------------------------------------------------

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }

func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return &doneToken{err: f.err}
}

func (f *fakeMQTT) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestMQTTPublishEvent(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "sajda", zerolog.Nop())

	ev := models.Event{ID: "abc", Kind: models.EventPrayerReached, Prayer: models.Asr, Date: "2024-06-14"}
	require.NoError(t, p.Publish(context.Background(), ev))

	msgs := client.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sajda/prayer_reached", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[0].retained)

	var got models.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, models.Asr, got.Prayer)

	client.err = errors.New("not connected")
	assert.Error(t, p.Publish(context.Background(), ev))
}

func TestMQTTRunCountdownRetains(t *testing.T) {
	client := &fakeMQTT{}
	p := NewMQTTPublisher(client, "sajda", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan models.Countdown, 1)
	done := make(chan struct{})
	go func() {
		p.RunCountdown(ctx, updates)
		close(done)
	}()

	updates <- models.Countdown{Title: "Asar - 00:10:00"}
	require.Eventually(t, func() bool { return len(client.all()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msg := client.all()[0]
	assert.Equal(t, "sajda/countdown", msg.topic)
	assert.True(t, msg.retained)
}
