// Package timeutil provides timezone-aware day, week, and month arithmetic
// for CF Goal Hub. Every user has their own IANA timezone, and a "day" runs
// from a configurable local day-start offset (04:00 by default) to the next
// occurrence of that offset, so late-night solving counts towards the
// previous calendar day.
// No external dependencies - uses only standard library.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDayStart is the default local day-start offset.
// An accepted submission at 02:00 local time belongs to the previous day.
const DefaultDayStart = 4 * time.Hour

// Period represents a goal accounting period.
type Period string

const (
	// PeriodDay - daily period, offset by the day start.
	PeriodDay Period = "day"
	// PeriodWeek - local week starting Monday.
	PeriodWeek Period = "week"
	// PeriodMonth - local calendar month.
	PeriodMonth Period = "month"
)

// IsValid checks that the period is one of the known values.
func (p Period) IsValid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidZone is returned for timezone names that are not valid IANA zones.
	ErrInvalidZone = errors.New("timeutil: invalid IANA timezone")

	// ErrInvalidClock is returned for malformed HH:MM clock strings.
	ErrInvalidClock = errors.New("timeutil: invalid clock time, want HH:MM")

	// ErrInvalidPeriod is returned for unknown period values.
	ErrInvalidPeriod = errors.New("timeutil: invalid period")
)

// LoadZone resolves an IANA timezone name. Empty input means UTC.
// Callers must reject configuration that fails here before persisting it.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, name)
	}
	return loc, nil
}

// LocalDate converts an instant to the local calendar date it belongs to,
// treating a day as running from dayStart to the next dayStart. The returned
// time is midnight UTC of that date and carries no clock component.
func LocalDate(t time.Time, loc *time.Location, dayStart time.Duration) time.Time {
	local := t.In(loc).Add(-dayStart)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns the Monday of the local week the date belongs to.
// The date argument must be a date as returned by LocalDate.
func StartOfWeek(date time.Time) time.Time {
	wd := int(date.Weekday())
	if wd == 0 { // Sunday
		wd = 7
	}
	return date.AddDate(0, 0, -(wd - 1))
}

// PeriodIndex returns an opaque value identifying the period bucket an
// instant falls into. Two instants share a bucket iff their indices are equal.
func PeriodIndex(t time.Time, loc *time.Location, dayStart time.Duration, period Period) (string, error) {
	date := LocalDate(t, loc, dayStart)

	switch period {
	case PeriodDay:
		return date.Format("2006-01-02"), nil
	case PeriodWeek:
		return StartOfWeek(date).Format("2006-01-02"), nil
	case PeriodMonth:
		return date.Format("2006-01"), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
}

// PeriodBoundaryCrossed reports whether a period boundary lies between
// lastCheck and now in the given timezone. A zero lastCheck never crosses:
// a user who has just configured goals starts accounting from now.
func PeriodBoundaryCrossed(lastCheck, now time.Time, loc *time.Location, dayStart time.Duration, period Period) (bool, error) {
	if lastCheck.IsZero() {
		return false, nil
	}

	before, err := PeriodIndex(lastCheck, loc, dayStart, period)
	if err != nil {
		return false, err
	}
	after, err := PeriodIndex(now, loc, dayStart, period)
	if err != nil {
		return false, err
	}

	return before != after, nil
}

// Clock is a time of day without a date, used for reminder times.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" 24-hour clock string.
func ParseClock(s string) (Clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// String returns the canonical "HH:MM" form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Matches reports whether the instant falls within the clock's hour in the
// given timezone. Reminder sweeps run well under an hour apart, so hour
// granularity is enough.
func (c Clock) Matches(t time.Time, loc *time.Location) bool {
	return t.In(loc).Hour() == c.Hour
}

// DaysBetween returns the number of whole local days between two dates as
// returned by LocalDate.
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
