package view

import (
	"time"

	"crmcal/internal/recur"
)

// Mode is the active calendar view.
type Mode string

const (
	ModeDay    Mode = "day"
	ModeWeek   Mode = "week"
	ModeMonth  Mode = "month"
	ModeAgenda Mode = "agenda"
)

// Valid reports whether m is a known view mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDay, ModeWeek, ModeMonth, ModeAgenda:
		return true
	}
	return false
}

const (
	// BufferDays is the symmetric safety margin added around every
	// computed window before expansion. It guards against edge-clipping
	// from timezone rounding and grid padding; rendering still filters to
	// the precise window, so the buffer never changes what is shown.
	BufferDays = 7

	// DefaultAgendaDays is the forward-looking span of the agenda view.
	DefaultAgendaDays = 30
)

// Window is the time range the calendar currently needs occurrences for.
// Both bounds are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Compute returns the precise (un-buffered) window for the given view mode
// and reference date. agendaDays <= 0 falls back to DefaultAgendaDays.
func Compute(mode Mode, ref time.Time, loc *time.Location, agendaDays int) Window {
	if loc == nil {
		loc = time.Local
	}
	ref = ref.In(loc)

	switch mode {
	case ModeDay:
		return Window{Start: startOfDay(ref), End: recur.EndOfDay(ref)}

	case ModeWeek:
		// ISO week, Monday start.
		monday := startOfDay(startOfISOWeek(ref))
		return Window{Start: monday, End: recur.EndOfDay(monday.AddDate(0, 0, 6))}

	case ModeMonth:
		// Full calendar-grid span: the leading and trailing days of
		// adjacent months needed to complete the first and last week rows.
		first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc)
		last := first.AddDate(0, 1, -1)
		gridStart := startOfDay(startOfISOWeek(first))
		gridEnd := recur.EndOfDay(startOfISOWeek(last).AddDate(0, 0, 6))
		return Window{Start: gridStart, End: gridEnd}

	case ModeAgenda:
		if agendaDays <= 0 {
			agendaDays = DefaultAgendaDays
		}
		return Window{Start: startOfDay(ref), End: recur.EndOfDay(ref.AddDate(0, 0, agendaDays))}
	}

	// Unknown mode: degrade to the day view rather than an empty window.
	return Window{Start: startOfDay(ref), End: recur.EndOfDay(ref)}
}

// Buffered widens the window by BufferDays on each side for expansion.
func (w Window) Buffered() Window {
	return Window{
		Start: w.Start.AddDate(0, 0, -BufferDays),
		End:   w.End.AddDate(0, 0, BufferDays),
	}
}

// Overlaps reports whether the span [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(w.Start) {
		return false
	}
	if w.End.Before(start) {
		return false
	}
	return true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfISOWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return t.AddDate(0, 0, -offset)
}
