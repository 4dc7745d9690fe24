package matrix

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Formatter renders cells as display readings.
type Formatter struct {
	// Annotate appends the representative time rendered in Location.
	Annotate bool
	Location *time.Location
}

// Reading formats a cell as "X.X dB", optionally followed by " (HH:MM ZONE)".
func (f Formatter) Reading(c Cell) string {
	reading := FormatDB(c.AvgDB)
	if !f.Annotate || c.Timestamp.IsZero() {
		return reading
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}
	return reading + " (" + c.Timestamp.In(loc).Format("15:04 MST") + ")"
}

// FormatDB renders a level to one decimal place with the dB unit.
func FormatDB(v float64) string {
	return FormatTenth(v) + " dB"
}

// FormatTenth renders v rounded to one decimal place, halves away from zero.
func FormatTenth(v float64) string {
	return strconv.FormatFloat(RoundTenth(v), 'f', 1, 64)
}

// RoundTenth rounds v to one decimal place, halves away from zero.
func RoundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// StripMcastURL returns host:port of a stream url without scheme or query.
func StripMcastURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if _, rest, ok := strings.Cut(raw, "://"); ok {
		raw = rest
	}
	before, _, _ := strings.Cut(raw, "?")
	return before
}
