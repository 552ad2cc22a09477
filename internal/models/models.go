package models

import (
	"math"
	"time"

	"sajda/internal/errors"
)

// DateLayout is the calendar-day key used across storage, reminders and events.
const DateLayout = "2006-01-02"

// FixSource tells where a LocationFix came from.
type FixSource string

const (
	SourceNative  FixSource = "native"
	SourceIP      FixSource = "ip"
	SourceCached  FixSource = "cached"
	SourceDefault FixSource = "default"
)

// nullIslandEpsilon guards against native APIs reporting (0,0) as a position.
const nullIslandEpsilon = 0.01

// IsNullIsland reports whether the coordinates must be treated as "no data".
func IsNullIsland(lat, lng float64) bool {
	return math.Abs(lat) < nullIslandEpsilon && math.Abs(lng) < nullIslandEpsilon
}

// LocationFix is a single resolved position sample. Never persisted.
type LocationFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	Source         FixSource `json:"source"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Valid is false for the null-island sentinel.
func (f LocationFix) Valid() bool {
	return !IsNullIsland(f.Latitude, f.Longitude)
}

// Zone is an administrative prayer-time region, e.g. WLY01.
type Zone struct {
	Code        string `db:"code"         json:"code"`
	DisplayName string `db:"display_name" json:"display_name"`
}

func (z Zone) IsZero() bool { return z.Code == "" }

// CachedZone is the persisted zone plus the fix it was looked up from.
type CachedZone struct {
	Zone
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrayerName identifies one of the six daily times, in chronological order.
type PrayerName string

const (
	Fajr    PrayerName = "fajr"
	Syuruk  PrayerName = "syuruk"
	Dhuhr   PrayerName = "dhuhr"
	Asr     PrayerName = "asr"
	Maghrib PrayerName = "maghrib"
	Isha    PrayerName = "isha"
)

// PrayerOrder is the order times occur within a day.
var PrayerOrder = []PrayerName{Fajr, Syuruk, Dhuhr, Asr, Maghrib, Isha}

// Index returns the position in PrayerOrder, or -1 for an unknown/empty name.
func (p PrayerName) Index() int {
	for i, n := range PrayerOrder {
		if n == p {
			return i
		}
	}
	return -1
}

// After reports whether p comes later in the day than other. Any prayer is
// after the empty name.
func (p PrayerName) After(other PrayerName) bool {
	return p.Index() > other.Index()
}

// PrayerTime pairs a prayer with its instant.
type PrayerTime struct {
	Name PrayerName
	At   time.Time
}

// PrayerDay holds one calendar day of prayer times for a zone.
// Immutable once fetched.
type PrayerDay struct {
	Date       string    `db:"day"       json:"date"` // YYYY-MM-DD
	ZoneCode   string    `db:"zone_code" json:"zone_code"`
	Fajr       time.Time `json:"fajr"`
	Syuruk     time.Time `json:"syuruk"`
	Dhuhr      time.Time `json:"dhuhr"`
	Asr        time.Time `json:"asr"`
	Maghrib    time.Time `json:"maghrib"`
	Isha       time.Time `json:"isha"`
	HijriLabel string    `db:"hijri"     json:"hijri,omitempty"`
}

// Times lists the six times in chronological order.
func (d PrayerDay) Times() []PrayerTime {
	return []PrayerTime{
		{Fajr, d.Fajr},
		{Syuruk, d.Syuruk},
		{Dhuhr, d.Dhuhr},
		{Asr, d.Asr},
		{Maghrib, d.Maghrib},
		{Isha, d.Isha},
	}
}

// Time returns the instant of a single prayer.
func (d PrayerDay) Time(name PrayerName) (time.Time, bool) {
	for _, pt := range d.Times() {
		if pt.Name == name {
			return pt.At, true
		}
	}
	return time.Time{}, false
}

var ErrInvalidPrayerDay = errors.New("invalid prayer day")

// Validate checks that all six times are set and strictly increasing.
func (d PrayerDay) Validate() error {
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return errors.Wrapf(errors.Join(ErrInvalidPrayerDay, err), "bad date %q", d.Date)
	}
	var prev PrayerTime
	for i, pt := range d.Times() {
		if pt.At.IsZero() {
			return errors.Wrapf(ErrInvalidPrayerDay, "%s: %s is not set", d.Date, pt.Name)
		}
		if i > 0 && !pt.At.After(prev.At) {
			return errors.Wrapf(ErrInvalidPrayerDay, "%s: %s (%s) is not after %s (%s)",
				d.Date, pt.Name, pt.At.Format("15:04"), prev.Name, prev.At.Format("15:04"))
		}
		prev = pt
	}
	return nil
}

// NextPrayer is the countdown projection published every tick.
type NextPrayer struct {
	Name      PrayerName `json:"name"`
	Label     string     `json:"label"`
	Time      string     `json:"time"`      // HH:MM
	Remaining string     `json:"remaining"` // HH:MM:SS
	At        time.Time  `json:"timestamp"`
}
