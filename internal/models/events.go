package models

import "time"

// EventKind names a trigger emitted by the scheduler.
type EventKind string

const (
	EventPrayerReached EventKind = "prayer_reached"
	EventReminderDue   EventKind = "reminder_due"
	EventWake          EventKind = "system_wake"
)

// Event is a discrete trigger consumed by notification/audio sinks and the host.
type Event struct {
	ID     string     `json:"id"`
	Kind   EventKind  `json:"kind"`
	Date   string     `json:"date"`
	At     time.Time  `json:"at"`
	Prayer PrayerName `json:"prayer,omitempty"`
	// Reminder is the HH:MM slot of a reminder event.
	Reminder string `json:"reminder,omitempty"`

	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
	Notify bool   `json:"notify"`
	// AudioFile is empty when nothing should be played.
	AudioFile string `json:"audio_file,omitempty"`
}

// Countdown is pushed to the host on every tick.
type Countdown struct {
	Date string     `json:"date"`
	Next NextPrayer `json:"next"`
	// Title is the tray-style label, e.g. "Asar - 01:02:03".
	Title string `json:"title"`
}

// FiredRecord is one persisted firing. Key is the prayer name for prayer
// events and "YYYY-MM-DD:HH:MM" for reminders.
type FiredRecord struct {
	Day     string    `db:"day"      json:"day"`
	Key     string    `db:"key"      json:"key"`
	Kind    EventKind `db:"kind"     json:"kind"`
	FiredAt time.Time `db:"-"        json:"fired_at"`
}
