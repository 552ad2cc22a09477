package reminder

import (
	"slices"
	"time"

	"sajda/internal/config"
	"sajda/internal/models"
)

// Schedule yields the reminder slots for a day.
type Schedule interface {
	TimesFor(date time.Time) []string
}

// Custom is a fixed user-chosen set of times.
type Custom struct {
	times []string
}

// NewCustom keeps the valid HH:MM entries, deduplicated and sorted, and
// returns the rejected ones so the caller can report them.
func NewCustom(times []string) (Custom, []string) {
	var valid, invalid []string
	for _, t := range times {
		if _, err := ParseHHMM(t); err != nil {
			invalid = append(invalid, t)
			continue
		}
		if !slices.Contains(valid, t) {
			valid = append(valid, t)
		}
	}
	slices.Sort(valid)
	return Custom{times: valid}, invalid
}

func (c Custom) TimesFor(time.Time) []string { return slices.Clone(c.times) }

// Random regenerates three times from the date every day.
type Random struct{}

func (Random) TimesFor(date time.Time) []string { return RandomTimes(date) }

// None disables reminders.
type None struct{}

func (None) TimesFor(time.Time) []string { return nil }

// FromSettings picks the schedule configured by the user.
func FromSettings(s config.Settings) (Schedule, []string) {
	switch {
	case !s.RemindersEnabled:
		return None{}, nil
	case s.RandomReminders:
		return Random{}, nil
	default:
		c, invalid := NewCustom(s.ReminderTimes)
		return c, invalid
	}
}

// Key identifies a reminder firing, "YYYY-MM-DD:HH:MM".
func Key(date time.Time, hhmm string) string {
	return date.Format(models.DateLayout) + ":" + hhmm
}
