// Package notify implements the notification, audio and event-bus sinks the
// scheduler dispatches to.
package notify

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/models"
	"sajda/internal/scheduler"
)

var (
	_ scheduler.Notifier    = Fanout(nil)
	_ scheduler.Notifier    = (*LogNotifier)(nil)
	_ scheduler.AudioPlayer = (*LogPlayer)(nil)
)

// Fanout sends to every notifier and joins their errors.
type Fanout []scheduler.Notifier

func (f Fanout) Notify(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the log; the desktop host reads them
// from the event stream.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(l zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: l.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, title, body string) error {
	n.log.Info().Str("title", title).Str("body", body).Msg("notification")
	return nil
}

// LogPlayer resolves audio resources and records what would play. The host
// owns the real output device.
type LogPlayer struct {
	dir string
	log zerolog.Logger

	mu      sync.Mutex
	playing string
}

func NewLogPlayer(dir string, l zerolog.Logger) *LogPlayer {
	return &LogPlayer{dir: dir, log: l.With().Str("component", "audio").Logger()}
}

func (p *LogPlayer) Play(_ context.Context, file string, prayer models.PrayerName) error {
	if file == "" {
		return errors.New("audio: empty file")
	}
	path := filepath.Join(p.dir, file)

	p.mu.Lock()
	if p.playing != "" {
		p.log.Debug().Str("file", p.playing).Msg("replacing current playback")
	}
	p.playing = path
	p.mu.Unlock()

	p.log.Info().Str("file", path).Str("prayer", string(prayer)).Msg("play")
	return nil
}

func (p *LogPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing != "" {
		p.log.Info().Str("file", p.playing).Msg("stop")
	}
	p.playing = ""
	return nil
}

// Playing is the current resource path, empty when idle.
func (p *LogPlayer) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
