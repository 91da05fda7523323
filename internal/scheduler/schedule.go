package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule decides when a poller ticks.
type Schedule interface {
	// First is the instant of the first tick for a poller started at now.
	First(now time.Time) time.Time
	// Next is the instant of the tick after one that finished at now.
	Next(now time.Time) time.Time
	String() string
}

// Every ticks immediately and then Period after the end of each tick.
type Every struct {
	Period time.Duration
}

func (e Every) First(now time.Time) time.Time { return now }
func (e Every) Next(now time.Time) time.Time  { return now.Add(e.Period) }
func (e Every) String() string                { return "every " + e.Period.String() }

// DailyAt ticks once a day at a wall-clock time in Location.
type DailyAt struct {
	Hour, Minute int
	Location     *time.Location
}

// ParseDailyAt reads "HH:MM". A nil loc means time.Local.
func ParseDailyAt(s string, loc *time.Location) (DailyAt, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return DailyAt{}, fmt.Errorf("daily time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return DailyAt{}, fmt.Errorf("daily time %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return DailyAt{}, fmt.Errorf("daily time %q: bad minute", s)
	}
	return DailyAt{Hour: h, Minute: m, Location: loc}, nil
}

func (d DailyAt) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// First and Next both return the earliest matching instant strictly after now, so a time
// that already passed today (or is exactly now) moves to tomorrow.
func (d DailyAt) First(now time.Time) time.Time { return d.Next(now) }

func (d DailyAt) Next(now time.Time) time.Time {
	local := now.In(d.loc())
	at := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, d.loc())
	if !at.After(now) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, d.Hour, d.Minute, 0, 0, d.loc())
	}
	return at
}

func (d DailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.Hour, d.Minute, d.loc())
}
