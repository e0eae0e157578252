package market

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DefaultLocation = "Africa/Abidjan"
	DefaultOpen     = "09:00"
	DefaultClose    = "15:30"
)

type Config struct {
	// Location is the IANA zone the session hours are expressed in.
	Location string
	// Open and Close are "HH:MM" bounds of the continuous session, Close exclusive.
	Open  string
	Close string
}

// Calendar knows when the exchange is trading. Sessions run Monday to Friday.
type Calendar struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
}

// Session describes where an instant falls relative to the trading window.
type Session struct {
	OutOfHours bool
	Weekend    bool
}

func NewCalendar(c Config) (*Calendar, error) {
	if c.Location == "" {
		c.Location = DefaultLocation
	}
	if c.Open == "" {
		c.Open = DefaultOpen
	}
	if c.Close == "" {
		c.Close = DefaultClose
	}

	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return nil, fmt.Errorf("market: load location %q: %w", c.Location, err)
	}

	open, err := parseClock(c.Open)
	if err != nil {
		return nil, fmt.Errorf("market: open: %w", err)
	}

	closing, err := parseClock(c.Close)
	if err != nil {
		return nil, fmt.Errorf("market: close: %w", err)
	}

	if closing <= open {
		return nil, fmt.Errorf("market: close %s is not after open %s", c.Close, c.Open)
	}

	return &Calendar{loc: loc, open: open, close: closing}, nil
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Session reports whether t is outside the trading window.
func (c *Calendar) Session(t time.Time) Session {
	t = t.In(c.loc)
	if isWeekend(t) {
		return Session{OutOfHours: true, Weekend: true}
	}

	sinceMidnight := t.Sub(midnight(t))
	return Session{OutOfHours: sinceMidnight < c.open || sinceMidnight >= c.close}
}

// IsOpen reports whether orders placed at t execute in the current session.
func (c *Calendar) IsOpen(t time.Time) bool {
	return !c.Session(t).OutOfHours
}

// NextOpen returns the start of the first session opening strictly after t,
// or t itself when the market is open.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	if c.IsOpen(t) {
		return t
	}

	day := midnight(t.In(c.loc))
	if t.In(c.loc).Sub(day) >= c.open {
		day = day.AddDate(0, 0, 1)
	}
	for isWeekend(day) {
		day = day.AddDate(0, 0, 1)
	}

	return day.Add(c.open)
}

// Day returns the exchange-local date of t, at midnight.
func (c *Calendar) Day(t time.Time) time.Time {
	return midnight(t.In(c.loc))
}

func isWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
