// Package scheduler runs the once-a-second tick that fires prayer and
// reminder triggers exactly once per day and publishes the countdown.
package scheduler

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sajda/internal/config"
	"sajda/internal/messages"
	"sajda/internal/models"
	"sajda/internal/reminder"
)

const tickJobName = "scheduler-tick"

// SchedulerState is owned by the tick; everyone else sees copies.
type SchedulerState struct {
	LastFiredPrayer   models.PrayerName   `json:"last_fired_prayer,omitempty"`
	LastFiredDate     string              `json:"last_fired_date"`
	FiredReminderKeys map[string]struct{} `json:"-"`
}

func (s SchedulerState) clone() SchedulerState {
	s.FiredReminderKeys = maps.Clone(s.FiredReminderKeys)
	return s
}

// Snapshot is the read model published after each tick.
type Snapshot struct {
	Date           string            `json:"date"`
	Current        models.PrayerName `json:"current,omitempty"`
	Next           models.NextPrayer `json:"next"`
	Reminders      []string          `json:"reminders"`
	FiredReminders []string          `json:"fired_reminders"`
	State          SchedulerState    `json:"state"`
	Today          *models.PrayerDay `json:"today,omitempty"`
	TickedAt       time.Time         `json:"ticked_at"`
}

// EventSink receives triggers. Dispatch must not block.
type EventSink interface {
	Dispatch(ev models.Event)
}

// Recorder persists firings. Record must not block.
type Recorder interface {
	Record(rec models.FiredRecord)
}

// FiredSource reads persisted firings for a day.
type FiredSource interface {
	FiredOn(ctx context.Context, day string) ([]models.FiredRecord, error)
}

type Options struct {
	Clock    clockwork.Clock
	Location *time.Location
	Settings config.Settings
	// WakeThreshold is the tick gap treated as a sleep/wake; 0 disables the
	// check and a prayer already passed at startup fires on the first tick.
	WakeThreshold time.Duration
	Sink          EventSink
	Recorder      Recorder
	Logger        zerolog.Logger
}

type Engine struct {
	clock    clockwork.Clock
	loc      *time.Location
	wake     time.Duration
	sink     EventSink
	recorder Recorder
	log      zerolog.Logger
	running  atomic.Bool

	// tick-owned
	state           SchedulerState
	lastTick        time.Time
	reminderDate    string
	reminderVersion int
	reminderTimes   []string

	mu       sync.RWMutex
	days     map[string]*models.PrayerDay
	settings config.Settings
	schedule reminder.Schedule
	version  int
	restored map[string][]models.FiredRecord
	snapshot Snapshot

	subsMu     sync.Mutex
	nextSub    int
	countdowns map[int]chan models.Countdown
	events     map[int]chan models.Event
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	e := &Engine{
		clock:      opts.Clock,
		loc:        opts.Location,
		wake:       opts.WakeThreshold,
		sink:       opts.Sink,
		recorder:   opts.Recorder,
		log:        opts.Logger.With().Str("component", "scheduler").Logger(),
		days:       make(map[string]*models.PrayerDay),
		restored:   make(map[string][]models.FiredRecord),
		countdowns: make(map[int]chan models.Countdown),
		events:     make(map[int]chan models.Event),
	}
	e.SetSettings(opts.Settings)
	return e
}

// Register adds the tick to s. An overrunning tick makes gocron skip the
// next run instead of queueing it.
func (e *Engine) Register(s gocron.Scheduler, every time.Duration) (gocron.Job, error) {
	return s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(e.Tick),
		gocron.WithName(tickJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
}

// SetSettings swaps the user preferences; reminders are regenerated on the
// next tick.
func (e *Engine) SetSettings(s config.Settings) {
	sched, invalid := reminder.FromSettings(s)
	if len(invalid) > 0 {
		e.log.Warn().Strs("times", invalid).Msg("ignoring invalid reminder times")
	}
	e.mu.Lock()
	e.settings = s
	e.schedule = sched
	e.version++
	e.mu.Unlock()
}

// SetPrayerDays is called by the timetable refresher. Nil days are ignored so
// a failed refetch does not blank out what is already known.
func (e *Engine) SetPrayerDays(today, tomorrow *models.PrayerDay) {
	if today == nil && tomorrow == nil {
		return
	}
	days := make(map[string]*models.PrayerDay, 2)
	for _, d := range []*models.PrayerDay{today, tomorrow} {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			e.log.Error().Err(err).Msg("rejecting prayer day")
			continue
		}
		cp := *d
		days[d.Date] = &cp
	}

	e.mu.Lock()
	e.days = days
	e.mu.Unlock()
}

// Restore loads today's persisted firings so a restart does not repeat them.
// Call it before the first tick; the tick itself never does I/O.
func (e *Engine) Restore(ctx context.Context, src FiredSource) error {
	day := e.clock.Now().In(e.loc).Format(models.DateLayout)
	recs, err := src.FiredOn(ctx, day)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.restored[day] = recs
	e.mu.Unlock()
	e.log.Info().Str("date", day).Int("fired", len(recs)).Msg("restored fired state")
	return nil
}

// Snapshot returns the state as of the last tick.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.snapshot
	s.State = s.State.clone()
	if s.Today != nil {
		cp := *s.Today
		s.Today = &cp
	}
	return s
}

// Today returns today's prayer day, nil while it is still loading.
func (e *Engine) Today() *models.PrayerDay {
	date := e.clock.Now().In(e.loc).Format(models.DateLayout)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if d, ok := e.days[date]; ok {
		cp := *d
		return &cp
	}
	return nil
}

// Tick runs one evaluation. A tick that finds the previous one still running
// returns immediately.
func (e *Engine) Tick() {
	if !e.running.CompareAndSwap(false, true) {
		e.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer e.running.Store(false)

	now := e.clock.Now().In(e.loc)
	today := now.Format(models.DateLayout)

	gap := now.Sub(e.lastTick)
	firstTick := e.lastTick.IsZero()
	woke := !firstTick && e.wake > 0 && gap > e.wake
	e.lastTick = now

	e.mu.RLock()
	day := e.days[today]
	tomorrow := e.days[now.AddDate(0, 0, 1).Format(models.DateLayout)]
	settings := e.settings
	schedule, version := e.schedule, e.version
	restored := e.restored[today]
	e.mu.RUnlock()

	// 1. day rollover; a clock set back into the previous day fires nothing
	// until it catches up again
	rewound := e.state.LastFiredDate != "" && today < e.state.LastFiredDate
	if !rewound && e.state.LastFiredDate != today {
		e.resetDay(today, restored)
	}

	// 2. current and next
	current, next := position(now, day, tomorrow)

	if woke {
		e.log.Info().Dur("gap", gap).Msg("wake from sleep detected")
		e.emit(models.Event{Kind: models.EventWake, Date: today, At: now})
	}
	if !rewound && e.wake > 0 && current.Name.After(e.state.LastFiredPrayer) && now.Sub(current.At) > e.wake {
		// passed while asleep, before start or before its day was loaded:
		// mark without playing
		e.log.Info().Str("prayer", string(current.Name)).Dur("late", now.Sub(current.At)).Msg("marking missed prayer as fired")
		e.state.LastFiredPrayer = current.Name
		e.record(today, string(current.Name), models.EventPrayerReached, now)
	}

	// 3. fire
	if !rewound && current.Name.After(e.state.LastFiredPrayer) {
		e.firePrayer(now, today, current.Name, settings)
		e.state.LastFiredPrayer = current.Name
	}

	// 4. publish
	np := e.nextPrayer(now, next)
	e.publish(models.Countdown{Date: today, Next: np, Title: messages.Tray(np.Label, np.Remaining)})

	// 5. reminders
	if e.reminderDate != today || e.reminderVersion != version {
		e.reminderTimes = schedule.TimesFor(now)
		e.reminderDate, e.reminderVersion = today, version
	}
	hhmm := now.Format("15:04")
	for _, t := range e.reminderTimes {
		if rewound || t != hhmm {
			continue
		}
		key := reminder.Key(now, t)
		if _, done := e.state.FiredReminderKeys[key]; done {
			continue
		}
		e.fireReminder(now, today, t, key)
		e.state.FiredReminderKeys[key] = struct{}{}
	}

	e.mu.Lock()
	e.snapshot = Snapshot{
		Date:           today,
		Current:        current.Name,
		Next:           np,
		Reminders:      slices.Clone(e.reminderTimes),
		FiredReminders: slices.Sorted(maps.Keys(e.state.FiredReminderKeys)),
		State:          e.state.clone(),
		Today:          day,
		TickedAt:       now,
	}
	e.mu.Unlock()
}

func (e *Engine) resetDay(today string, restored []models.FiredRecord) {
	e.state = SchedulerState{
		LastFiredDate:     today,
		FiredReminderKeys: make(map[string]struct{}),
	}
	for _, r := range restored {
		switch r.Kind {
		case models.EventPrayerReached:
			p := models.PrayerName(r.Key)
			if p.After(e.state.LastFiredPrayer) {
				e.state.LastFiredPrayer = p
			}
		case models.EventReminderDue:
			e.state.FiredReminderKeys[r.Key] = struct{}{}
		}
	}
	e.log.Info().Str("date", today).Str("last_fired", string(e.state.LastFiredPrayer)).Msg("new day")
}

// position finds the latest passed prayer and the next one, wrapping to
// tomorrow's Fajr after Isha.
func position(now time.Time, day, tomorrow *models.PrayerDay) (current, next models.PrayerTime) {
	if day == nil {
		return current, next
	}
	for _, pt := range day.Times() {
		if !pt.At.After(now) {
			current = pt
		} else if next.Name == "" {
			next = pt
		}
	}
	if next.Name == "" {
		next = models.PrayerTime{Name: models.Fajr, At: day.Fajr.Add(24 * time.Hour)}
		if tomorrow != nil {
			next.At = tomorrow.Fajr
		}
	}
	return current, next
}

func (e *Engine) nextPrayer(now time.Time, next models.PrayerTime) models.NextPrayer {
	if next.Name == "" {
		return models.NextPrayer{}
	}
	at := next.At.In(e.loc)
	return models.NextPrayer{
		Name:      next.Name,
		Label:     messages.DisplayName(next.Name, at.Weekday() == time.Friday),
		Time:      at.Format("15:04"),
		Remaining: messages.Remaining(at.Sub(now)),
		At:        at,
	}
}

func (e *Engine) firePrayer(now time.Time, today string, p models.PrayerName, s config.Settings) {
	friday := now.Weekday() == time.Friday
	title, body, notify := messages.Prayer(p, friday, s.AlKahfEnabled)
	ev := models.Event{
		Kind:      models.EventPrayerReached,
		Date:      today,
		At:        now,
		Prayer:    p,
		Title:     title,
		Body:      body,
		Notify:    notify,
		AudioFile: messages.AudioFile(p, s.AudioMode(string(p)), s.AdhanVoice),
	}
	e.log.Info().Str("prayer", string(p)).Str("audio", ev.AudioFile).Msg("prayer time reached")
	e.emit(ev)
	e.record(today, string(p), models.EventPrayerReached, now)
}

func (e *Engine) fireReminder(now time.Time, today, hhmm, key string) {
	title, body := messages.Reminder(hhmm)
	e.log.Info().Str("at", hhmm).Msg("reminder due")
	e.emit(models.Event{
		Kind:     models.EventReminderDue,
		Date:     today,
		At:       now,
		Reminder: hhmm,
		Title:    title,
		Body:     body,
		Notify:   true,
	})
	e.record(today, key, models.EventReminderDue, now)
}

func (e *Engine) record(day, key string, kind models.EventKind, at time.Time) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(models.FiredRecord{Day: day, Key: key, Kind: kind, FiredAt: at})
}

func (e *Engine) emit(ev models.Event) {
	ev.ID = uuid.NewString()
	if e.sink != nil {
		e.sink.Dispatch(ev)
	}
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.events {
		select {
		case ch <- ev:
		default:
			e.log.Warn().Str("kind", string(ev.Kind)).Msg("event subscriber full, dropping")
		}
	}
}

func (e *Engine) publish(c models.Countdown) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.countdowns {
		// keep only the latest countdown
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

// SubscribeCountdown streams the countdown; slow readers only see the latest.
func (e *Engine) SubscribeCountdown() (<-chan models.Countdown, func()) {
	ch := make(chan models.Countdown, 1)
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.countdowns[id] = ch
	e.subsMu.Unlock()
	return ch, func() {
		e.subsMu.Lock()
		delete(e.countdowns, id)
		e.subsMu.Unlock()
	}
}

// SubscribeEvents streams triggers; a full subscriber misses events.
func (e *Engine) SubscribeEvents() (<-chan models.Event, func()) {
	ch := make(chan models.Event, 16)
	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.events[id] = ch
	e.subsMu.Unlock()
	return ch, func() {
		e.subsMu.Lock()
		delete(e.events, id)
		e.subsMu.Unlock()
	}
}
