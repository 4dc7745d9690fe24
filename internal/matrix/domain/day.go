package matrix

import (
	"errors"
	"strings"
	"time"
)

// DayLayout is the calendar date format used on the wire.
const DayLayout = "2006-01-02"

var ErrInvalidDay = errors.New("matrix: invalid date, expected YYYY-MM-DD")

// Day is a UTC calendar day.
type Day struct {
	start time.Time
}

// ParseDay parses YYYY-MM-DD as a UTC day.
func ParseDay(value string) (Day, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(value))
	if err != nil {
		return Day{}, ErrInvalidDay
	}
	return Day{start: t.UTC()}, nil
}

// DayOf returns the UTC day containing ts.
func DayOf(ts time.Time) Day {
	y, m, d := ts.UTC().Date()
	return Day{start: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Start is 00:00:00Z of the day.
func (d Day) Start() time.Time { return d.start }

// End is 00:00:00Z of the following day, exclusive.
func (d Day) End() time.Time { return d.start.AddDate(0, 0, 1) }

// Contains reports whether ts falls in [Start, End).
func (d Day) Contains(ts time.Time) bool {
	return !ts.Before(d.start) && ts.Before(d.End())
}

// Next returns the following day.
func (d Day) Next() Day { return Day{start: d.End()} }

// After reports whether d is later than other.
func (d Day) After(other Day) bool { return d.start.After(other.start) }

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool { return d.start.IsZero() }

func (d Day) String() string { return d.start.Format(DayLayout) }
