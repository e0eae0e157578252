package market_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/afribourse/internal/market"
)

func TestCalendar_Session(t *testing.T) {
	c := makeCalendar(t)

	tests := map[string]struct {
		at   time.Time
		want market.Session
	}{
		"wednesday mid session should be open": {
			at:   date(2026, 10, 14, 11, 0),
			want: market.Session{},
		},
		"open bound is inclusive": {
			at:   date(2026, 10, 14, 9, 0),
			want: market.Session{},
		},
		"close bound is exclusive": {
			at:   date(2026, 10, 14, 15, 30),
			want: market.Session{OutOfHours: true},
		},
		"weekday before open should be out of hours": {
			at:   date(2026, 10, 14, 7, 59),
			want: market.Session{OutOfHours: true},
		},
		"saturday should be weekend": {
			at:   date(2026, 10, 17, 11, 0),
			want: market.Session{OutOfHours: true, Weekend: true},
		},
		"sunday should be weekend": {
			at:   date(2026, 10, 18, 11, 0),
			want: market.Session{OutOfHours: true, Weekend: true},
		},
		"instant in another zone is converted first": {
			// 10:00 in Paris (UTC+2 in October) is 08:00 in Abidjan.
			at:   time.Date(2026, 10, 14, 10, 0, 0, 0, mustLoad(t, "Europe/Paris")),
			want: market.Session{OutOfHours: true},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, c.Session(tt.at))
		})
	}
}

func TestCalendar_NextOpen(t *testing.T) {
	c := makeCalendar(t)

	tests := map[string]struct {
		at   time.Time
		want time.Time
	}{
		"open market returns the instant itself": {
			at:   date(2026, 10, 14, 11, 0),
			want: date(2026, 10, 14, 11, 0),
		},
		"before open returns same day open": {
			at:   date(2026, 10, 14, 6, 0),
			want: date(2026, 10, 14, 9, 0),
		},
		"after close returns next day open": {
			at:   date(2026, 10, 14, 18, 0),
			want: date(2026, 10, 15, 9, 0),
		},
		"friday after close returns monday open": {
			at:   date(2026, 10, 16, 16, 0),
			want: date(2026, 10, 19, 9, 0),
		},
		"saturday returns monday open": {
			at:   date(2026, 10, 17, 8, 0),
			want: date(2026, 10, 19, 9, 0),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.True(t, tt.want.Equal(c.NextOpen(tt.at)), "got %s", c.NextOpen(tt.at))
		})
	}
}

func TestCalendar_Day(t *testing.T) {
	c, err := market.NewCalendar(market.Config{Location: "Europe/Paris"})
	require.NoError(t, err)

	// 23:30 UTC on the 15th is already the 16th in Paris.
	got := c.Day(date(2026, 10, 15, 23, 30))
	require.Equal(t, 16, got.Day())
	require.Equal(t, 0, got.Hour())
	require.Equal(t, "Europe/Paris", got.Location().String())
}

func TestNewCalendar_Invalid(t *testing.T) {
	_, err := market.NewCalendar(market.Config{Open: "16:00", Close: "09:00"})
	require.Error(t, err)

	_, err = market.NewCalendar(market.Config{Location: "Nowhere/City"})
	require.Error(t, err)
}

func makeCalendar(t *testing.T) *market.Calendar {
	c, err := market.NewCalendar(market.Config{})
	require.NoError(t, err)
	return c
}

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func mustLoad(t *testing.T, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}
