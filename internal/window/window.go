// Package window evaluates per-source operating hours. All functions are
// pure: the instant under test and the timezone come in as arguments, so the
// clock rule can be verified independent of wall-clock time.
package window

import (
	"fmt"
	"time"

	"github.com/lendfield/rcs-dispatch/internal/model"
)

type bounds struct {
	loc                  *time.Location
	startHour, startMin  int
	startOfDay, endOfDay int // minutes from midnight
}

func parse(h model.OperatingHours) (bounds, error) {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return bounds{}, fmt.Errorf("window: timezone %q: %w", h.Timezone, err)
	}
	sh, sm, err := parseClock(h.StartTime)
	if err != nil {
		return bounds{}, err
	}
	eh, em, err := parseClock(h.EndTime)
	if err != nil {
		return bounds{}, err
	}
	return bounds{
		loc:        loc,
		startHour:  sh,
		startMin:   sm,
		startOfDay: sh*60 + sm,
		endOfDay:   eh*60 + em,
	}, nil
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("window: clock time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func (b bounds) contains(t time.Time) bool {
	lt := t.In(b.loc)
	m := lt.Hour()*60 + lt.Minute()
	return m >= b.startOfDay && m < b.endOfDay
}

// Validate reports whether the operating hours can be evaluated at all:
// a known timezone and parseable HH:MM bounds.
func Validate(h model.OperatingHours) error {
	_, err := parse(h)
	return err
}

// Contains reports whether t falls inside [startTime, endTime) on t's
// calendar day in the configured timezone.
func Contains(t time.Time, h model.OperatingHours) (bool, error) {
	b, err := parse(h)
	if err != nil {
		return false, err
	}
	return b.contains(t), nil
}

// Schedule applies the clock rule shared by the resolver and the dispatcher:
// delayDays = 0 inside the window sends now; every other case lands on the
// window start of the day after the candidate day (candidate = now +
// delayDays*24h), so no entry is ever scheduled outside operating hours.
func Schedule(now time.Time, delayDays int, h model.OperatingHours) (time.Time, error) {
	b, err := parse(h)
	if err != nil {
		return time.Time{}, err
	}
	if delayDays == 0 && b.contains(now) {
		return now, nil
	}
	cand := now.Add(time.Duration(delayDays) * 24 * time.Hour).In(b.loc)
	return time.Date(cand.Year(), cand.Month(), cand.Day()+1, b.startHour, b.startMin, 0, 0, b.loc), nil
}
