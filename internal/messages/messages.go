// Package messages composes the user-facing text and audio selection for
// prayer and reminder triggers.
package messages

import (
	"fmt"
	"strings"
	"time"

	"sajda/internal/models"
)

const (
	AppTitle     = "Sajda"
	JumuahTitle  = "Jumu'ah Mubarak"
	alKahfBody   = "Don't forget to read Surah Al-Kahf today."
	reminderBody = "Take a moment for dhikr."

	AudioDir       = "resources/audio"
	fileFajrAdhan  = "Adhan_Fajr.mp3"
	fileChime      = "Chime.mp3"
	voiceAhmed     = "Ahmed"
	voiceNasser    = "Nasser"
	ModeAdhan      = "adhan"
	ModeChime      = "chime"
	ModeMute       = "mute"
	loadingCaption = "Loading prayer times…"
)

var displayNames = map[models.PrayerName]string{
	models.Fajr:    "Subuh",
	models.Syuruk:  "Syuruk",
	models.Dhuhr:   "Zohor",
	models.Asr:     "Asar",
	models.Maghrib: "Maghrib",
	models.Isha:    "Isyak",
}

// DisplayName is the Malay label; Dhuhr on Friday is Jumaat.
func DisplayName(p models.PrayerName, friday bool) string {
	if p == models.Dhuhr && friday {
		return "Jumaat"
	}
	if n, ok := displayNames[p]; ok {
		return n
	}
	return string(p)
}

// Prayer returns the notification for a reached prayer. Syuruk is silent.
func Prayer(p models.PrayerName, friday, alKahf bool) (title, body string, notify bool) {
	if p == models.Syuruk {
		return "", "", false
	}
	if p == models.Dhuhr && friday && alKahf {
		return JumuahTitle, alKahfBody, true
	}
	return AppTitle, "It is now time for " + strings.ToUpper(string(p)), true
}

// Reminder returns the notification for a reminder slot.
func Reminder(hhmm string) (title, body string) {
	return AppTitle + " reminder", fmt.Sprintf("%s. %s", hhmm, reminderBody)
}

// AudioFile picks the file to play, or "" for nothing. Fajr always uses the
// Fajr adhan; other prayers use the selected voice.
func AudioFile(p models.PrayerName, mode, voice string) string {
	if p == models.Syuruk {
		return ""
	}
	switch mode {
	case ModeAdhan:
		if p == models.Fajr {
			return fileFajrAdhan
		}
		if voice == voiceAhmed {
			return voiceAhmed + ".mp3"
		}
		return voiceNasser + ".mp3"
	case ModeChime:
		return fileChime
	default:
		return ""
	}
}

// Remaining formats a countdown as HH:MM:SS, clamped at zero.
func Remaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

// Tray is the compact countdown label, e.g. "Asar - 01:02:03".
func Tray(label, remaining string) string {
	if label == "" {
		return loadingCaption
	}
	return label + " - " + remaining
}

// NextText is the chat reply for the next prayer.
func NextText(n models.NextPrayer) string {
	if n.Name == "" {
		return loadingCaption
	}
	return fmt.Sprintf("Next: %s at %s (in %s)", n.Label, n.Time, n.Remaining)
}

// TodayText lists a day's times, one per line.
func TodayText(d *models.PrayerDay, zone models.Zone) string {
	if d == nil {
		return loadingCaption
	}
	day, _ := time.Parse(models.DateLayout, d.Date)
	friday := day.Weekday() == time.Friday

	var b strings.Builder
	fmt.Fprintf(&b, "%s", d.Date)
	if d.HijriLabel != "" {
		fmt.Fprintf(&b, " (%s)", d.HijriLabel)
	}
	if zone.Code != "" {
		fmt.Fprintf(&b, "\n%s %s", zone.Code, zone.DisplayName)
	}
	for _, pt := range d.Times() {
		fmt.Fprintf(&b, "\n%-8s %s", DisplayName(pt.Name, friday), pt.At.Format("15:04"))
	}
	return b.String()
}
