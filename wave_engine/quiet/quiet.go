// Package quiet implements station night-pause windows: civil-time HH:MM
// ranges during which no escalation wave may be dispatched. Windows may wrap
// past midnight (e.g. 23:00-06:00).
package quiet

import (
	"fmt"
	"time"
)

// Defaults applied when a station enables the night pause without
// configuring explicit bounds.
const (
	DefaultStart = "23:00"
	DefaultEnd   = "06:00"
)

// Window is a parsed night-pause window in a station's local time zone.
type Window struct {
	startMinutes int
	endMinutes   int
	loc          *time.Location
}

// ParseClock parses an "HH:MM" string into minutes-of-day.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// NewWindow builds a Window from HH:MM bounds. Empty bounds fall back to the
// defaults. tz names the station's IANA time zone; empty means Europe/Paris.
func NewWindow(start, end, tz string) (Window, error) {
	if start == "" {
		start = DefaultStart
	}
	if end == "" {
		end = DefaultEnd
	}
	if tz == "" {
		tz = "Europe/Paris"
	}

	startMin, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	endMin, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Window{}, fmt.Errorf("invalid time zone %q: %w", tz, err)
	}

	return Window{startMinutes: startMin, endMinutes: endMin, loc: loc}, nil
}

func (w Window) minutesOfDay(t time.Time) int {
	local := t.In(w.loc)
	return local.Hour()*60 + local.Minute()
}

// In reports whether t falls inside the window. A start numerically greater
// than the end means the window wraps past midnight.
func (w Window) In(t time.Time) bool {
	m := w.minutesOfDay(t)
	if w.startMinutes > w.endMinutes {
		return m >= w.startMinutes || m < w.endMinutes
	}
	return m >= w.startMinutes && m < w.endMinutes
}

// JustEnded reports whether t falls within the given span after the window's
// end. The resume sweep uses this to find stations whose pause ended since
// the previous tick.
func (w Window) JustEnded(t time.Time, within time.Duration) bool {
	sincePauseEnd := w.minutesOfDay(t) - w.endMinutes
	return sincePauseEnd >= 0 && sincePauseEnd < int(within.Minutes())
}
