package timetable

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sajda/internal/models"
)

type MonthFetcher interface {
	FetchMonth(ctx context.Context, zone string, year int, month time.Month) ([]models.PrayerDay, error)
}

type DayStore interface {
	SavePrayerDays(ctx context.Context, days []models.PrayerDay) error
	PrayerDay(ctx context.Context, zone, day string) (*models.PrayerDay, error)
}

type ZoneSource interface {
	Current() (models.CachedZone, bool)
	Subscribe() (<-chan models.Zone, func())
}

// DayCalculator computes times from coordinates when no timetable is
// available for the zone.
type DayCalculator interface {
	Day(lat, lng float64, t time.Time) (*models.PrayerDay, error)
}

// Sink receives the days the scheduler works from.
type Sink interface {
	SetPrayerDays(today, tomorrow *models.PrayerDay)
}

// Refresher keeps the sink supplied for the cached zone. It refetches when
// the zone changes or the date moves into a month it has not stored yet.
// Days it cannot read or fetch are calculated from the zone's anchor
// coordinates, and fetching is retried on every refresh until it succeeds.
type Refresher struct {
	fetcher MonthFetcher
	store   DayStore
	zones   ZoneSource
	sink    Sink
	calc    DayCalculator
	clock   clockwork.Clock
	loc     *time.Location
	log     zerolog.Logger

	mu       sync.Mutex
	lastZone string
	lastDate string
}

// NewRefresher builds a refresher; calc may be nil to disable calculated days.
func NewRefresher(f MonthFetcher, s DayStore, z ZoneSource, sink Sink, calc DayCalculator, clock clockwork.Clock, loc *time.Location, logger zerolog.Logger) *Refresher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Refresher{
		fetcher: f,
		store:   s,
		zones:   z,
		sink:    sink,
		calc:    calc,
		clock:   clock,
		loc:     loc,
		log:     logger.With().Str("component", "timetable").Logger(),
	}
}

// Refresh pushes today's and tomorrow's days if the zone or date moved since
// the last complete push.
func (r *Refresher) Refresh(ctx context.Context) {
	zone, ok := r.zones.Current()
	if !ok {
		r.log.Debug().Msg("no zone yet")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().In(r.loc)
	date := now.Format(models.DateLayout)
	if zone.Code == r.lastZone && date == r.lastDate {
		return
	}

	today := r.day(ctx, zone, now)
	tomorrow := r.day(ctx, zone, now.AddDate(0, 0, 1))
	r.sink.SetPrayerDays(today, tomorrow)

	if fromTimetable(today) && fromTimetable(tomorrow) {
		r.lastZone, r.lastDate = zone.Code, date
		r.log.Info().Str("zone", zone.Code).Str("date", date).Msg("prayer times ready")
	}
}

// Run refreshes on every zone change until ctx ends.
func (r *Refresher) Run(ctx context.Context) {
	changes, cancel := r.zones.Subscribe()
	defer cancel()

	r.Refresh(ctx)
	for {
		select {
		case z := <-changes:
			r.log.Info().Str("zone", z.Code).Msg("zone changed, refreshing prayer times")
			r.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func fromTimetable(d *models.PrayerDay) bool {
	return d != nil && d.ZoneCode != CalculatedZone
}

func (r *Refresher) day(ctx context.Context, zone models.CachedZone, t time.Time) *models.PrayerDay {
	if d := r.timetableDay(ctx, zone.Code, t); d != nil {
		return d
	}
	if r.calc == nil || models.IsNullIsland(zone.Latitude, zone.Longitude) {
		return nil
	}

	d, err := r.calc.Day(zone.Latitude, zone.Longitude, t)
	if err != nil {
		r.log.Warn().Err(err).Str("zone", zone.Code).Msg("calculate prayer times")
		return nil
	}
	r.log.Info().Str("zone", zone.Code).Str("date", d.Date).Msg("using calculated prayer times")
	return d
}

func (r *Refresher) timetableDay(ctx context.Context, zone string, t time.Time) *models.PrayerDay {
	date := t.Format(models.DateLayout)

	if d, err := r.store.PrayerDay(ctx, zone, date); err != nil {
		r.log.Error().Err(err).Str("date", date).Msg("read prayer day")
	} else if d != nil {
		return d
	}

	days, err := r.fetcher.FetchMonth(ctx, zone, t.Year(), t.Month())
	if err != nil {
		r.log.Warn().Err(err).Str("zone", zone).Str("month", t.Format("2006-01")).Msg("fetch prayer times")
		return nil
	}
	if err := r.store.SavePrayerDays(ctx, days); err != nil {
		r.log.Error().Err(err).Msg("store prayer times")
	}
	for i := range days {
		if days[i].Date == date {
			return &days[i]
		}
	}
	return nil
}
