package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sajda/internal/errors"
	"sajda/internal/models"
)

type sinkCalls struct {
	mu        sync.Mutex
	notified  []string
	played    []string
	published []models.EventKind
	stopped   int
}

func (s *sinkCalls) Notify(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, title)
	return nil
}

func (s *sinkCalls) Play(_ context.Context, file string, _ models.PrayerName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, file)
	return errors.New("no audio device")
}

func (s *sinkCalls) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *sinkCalls) Publish(_ context.Context, ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ev.Kind)
	return nil
}

func (s *sinkCalls) count() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notified), len(s.played), len(s.published)
}

func TestDispatcherRoutesEvents(t *testing.T) {
	calls := &sinkCalls{}
	d := NewDispatcher(calls, calls, calls, 8, zerolog.Nop())
	d.Start(context.Background())
	defer d.Stop()

	d.Dispatch(models.Event{Kind: models.EventPrayerReached, Prayer: models.Fajr, Title: "Sajda", Notify: true, AudioFile: "Adhan_Fajr.mp3"})
	d.Dispatch(models.Event{Kind: models.EventPrayerReached, Prayer: models.Syuruk})
	d.Dispatch(models.Event{Kind: models.EventReminderDue, Title: "Sajda reminder", Notify: true})

	require.Eventually(t, func() bool {
		_, _, p := calls.count()
		return p == 3
	}, time.Second, 5*time.Millisecond)

	n, played, _ := calls.count()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, played, "audio failure does not stop the publish")

	require.NoError(t, d.StopAudio())
	assert.Equal(t, 1, calls.stopped)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	calls := &sinkCalls{}
	d := NewDispatcher(calls, nil, nil, 1, zerolog.Nop())

	// not started: the second event has nowhere to go and must not block
	done := make(chan struct{})
	go func() {
		d.Dispatch(models.Event{Notify: true})
		d.Dispatch(models.Event{Notify: true})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked")
	}
}

type memWriter struct {
	mu   sync.Mutex
	recs []models.FiredRecord
}

func (w *memWriter) AppendFired(_ context.Context, rec models.FiredRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs = append(w.recs, rec)
	return nil
}

func TestFiredLogFlushesOnStop(t *testing.T) {
	w := &memWriter{}
	l := NewFiredLog(w, 16, zerolog.Nop())
	l.Start(context.Background())

	for _, key := range []string{"fajr", "syuruk", "2024-06-14:09:00"} {
		l.Record(models.FiredRecord{Day: "2024-06-14", Key: key})
	}
	l.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.recs, 3)
}
