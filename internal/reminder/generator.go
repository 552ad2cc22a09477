// Package reminder expands a reminder schedule into the HH:MM slots for a day.
package reminder

import (
	"fmt"
	"slices"
	"time"

	"sajda/internal/errors"
)

const (
	windowStart = 8 * 60  // 08:00
	windowEnd   = 21 * 60 // 21:00, inclusive
	minGap      = 90
	dailyCount  = 3
	// maxDraws bounds rejection sampling; the sweep below fills whatever is left.
	maxDraws = 256

	lcgMul = 6364136223846793005
	lcgInc = 1442695040888963407
)

// Seed derives the generator seed from a calendar date.
func Seed(t time.Time) uint64 {
	return uint64(t.Year()*372 + int(t.Month())*31 + t.Day())
}

type lcg struct{ state uint64 }

func (g *lcg) next() uint64 {
	g.state = g.state*lcgMul + lcgInc
	return g.state >> 33
}

// RandomTimes returns the three daily reminder times for the given date,
// sorted, inside [08:00, 21:00] and at least 90 minutes apart. Same date,
// same result.
func RandomTimes(date time.Time) []string {
	g := &lcg{state: Seed(date)}
	span := uint64(windowEnd - windowStart + 1)

	accepted := make([]int, 0, dailyCount)
	for draws := 0; len(accepted) < dailyCount && draws < maxDraws; draws++ {
		m := windowStart + int(g.next()%span)
		if fits(accepted, m) {
			accepted = append(accepted, m)
		}
	}
	for m := windowStart; len(accepted) < dailyCount && m <= windowEnd; m++ {
		if fits(accepted, m) {
			accepted = append(accepted, m)
		}
	}

	slices.Sort(accepted)
	out := make([]string, len(accepted))
	for i, m := range accepted {
		out[i] = formatMinute(m)
	}
	return out
}

func fits(accepted []int, m int) bool {
	for _, a := range accepted {
		d := a - m
		if d < 0 {
			d = -d
		}
		if d < minGap {
			return false
		}
	}
	return true
}

func formatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

var ErrInvalidTime = errors.New("reminder: invalid time")

// ParseHHMM validates a 24h "HH:MM" string and returns minutes since midnight.
func ParseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil || len(s) != 5 {
		return 0, errors.Wrapf(ErrInvalidTime, "%q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
