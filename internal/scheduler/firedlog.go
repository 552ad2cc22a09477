package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sajda/internal/models"
)

const writeTimeout = 2 * time.Second

type FiredWriter interface {
	AppendFired(ctx context.Context, rec models.FiredRecord) error
}

// FiredLog persists firings off the tick path.
type FiredLog struct {
	w     FiredWriter
	queue chan models.FiredRecord
	log   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewFiredLog(w FiredWriter, size int, logger zerolog.Logger) *FiredLog {
	return &FiredLog{
		w:     w,
		queue: make(chan models.FiredRecord, max(size, 1)),
		log:   logger.With().Str("component", "firedlog").Logger(),
	}
}

// Record queues rec; it never blocks.
func (l *FiredLog) Record(rec models.FiredRecord) {
	select {
	case l.queue <- rec:
	default:
		l.log.Error().Str("key", rec.Key).Msg("fired log full, dropping record")
	}
}

func (l *FiredLog) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case rec := <-l.queue:
				l.write(rec)
			case <-ctx.Done():
				l.drain()
				return
			}
		}
	}()
}

// Stop flushes what is queued and waits for the writer.
func (l *FiredLog) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *FiredLog) drain() {
	for {
		select {
		case rec := <-l.queue:
			l.write(rec)
		default:
			return
		}
	}
}

// write is bounded on its own so a shutdown still flushes.
func (l *FiredLog) write(rec models.FiredRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.w.AppendFired(ctx, rec); err != nil {
		l.log.Error().Err(err).Str("day", rec.Day).Str("key", rec.Key).Msg("persist firing")
	}
}
