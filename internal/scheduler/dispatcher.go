package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sajda/internal/models"
)

// Notifier shows a user notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// AudioPlayer plays a resource file for a prayer.
type AudioPlayer interface {
	Play(ctx context.Context, file string, prayer models.PrayerName) error
	Stop() error
}

// Publisher forwards events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

const sinkTimeout = 10 * time.Second

// Dispatcher hands events from the tick to the sinks on its own goroutine.
type Dispatcher struct {
	notifier  Notifier
	player    AudioPlayer
	publisher Publisher
	queue     chan models.Event
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher accepts nil sinks.
func NewDispatcher(n Notifier, p AudioPlayer, pub Publisher, size int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:  n,
		player:    p,
		publisher: pub,
		queue:     make(chan models.Event, max(size, 1)),
		log:       logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch queues ev without blocking; a full queue drops it.
func (d *Dispatcher) Dispatch(ev models.Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Error().Str("kind", string(ev.Kind)).Str("id", ev.ID).Msg("dispatch queue full, dropping event")
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case ev := <-d.queue:
				d.handle(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// StopAudio stops whatever is playing.
func (d *Dispatcher) StopAudio() error {
	if d.player == nil {
		return nil
	}
	return d.player.Stop()
}

func (d *Dispatcher) handle(ctx context.Context, ev models.Event) {
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	l := d.log.With().Str("kind", string(ev.Kind)).Str("id", ev.ID).Logger()

	if ev.Notify && d.notifier != nil {
		if err := d.notifier.Notify(ctx, ev.Title, ev.Body); err != nil {
			l.Error().Err(err).Msg("notify failed")
		}
	}
	if ev.AudioFile != "" && d.player != nil {
		if err := d.player.Play(ctx, ev.AudioFile, ev.Prayer); err != nil {
			l.Error().Err(err).Str("file", ev.AudioFile).Msg("audio failed")
		}
	}
	if d.publisher != nil {
		if err := d.publisher.Publish(ctx, ev); err != nil {
			l.Warn().Err(err).Msg("publish failed")
		}
	}
}
