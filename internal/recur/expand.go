package recur

import (
	"time"

	"github.com/rs/zerolog"

	"crmcal/internal/model"
)

const (
	// maxOccurrencesPerMaster is a safety cap to avoid extremely large
	// expansions of unterminated rules over wide windows.
	maxOccurrencesPerMaster = 5000

	// maxIterationsPerMaster bounds the candidate-generation loop itself so
	// that a rule whose candidates all fall outside the window still
	// terminates.
	maxIterationsPerMaster = 100000
)

// Expand materializes the occurrences of a single master event inside the
// window [windowStart, windowEnd], ordered ascending by start.
//
// Expansion is deterministic and idempotent: the same master and window
// always produce a list-equal result. Every occurrence preserves the
// master's duration (end - start) and carries the master's wall-clock
// time of day.
//
// A malformed persisted rule is contained here: it is logged and the master
// contributes zero occurrences, leaving all other masters unaffected.
func Expand(master model.MasterEvent, windowStart, windowEnd time.Time, log zerolog.Logger) []model.Occurrence {
	if windowEnd.Before(windowStart) {
		return nil
	}

	// Trivial case: the UI asks the expander uniformly, so one-off events
	// are answered here too.
	if !master.Recurring {
		if rangesOverlap(master.Start, master.End, windowStart, windowEnd) {
			return []model.Occurrence{makeOccurrence(&master, master.Start)}
		}
		return nil
	}

	rule, err := Parse(master.RawRule)
	if err != nil {
		log.Error().Err(err).
			Str("master_id", master.ID).
			Str("rule", master.RawRule).
			Msg("expand: unparseable recurrence rule, skipping master")
		return nil
	}

	// Effective series upper bound: the window end, pruned by the rule's
	// own end and by the cached RecurrenceEnd if present.
	upper := windowEnd
	if rule.Until != nil && rule.Until.Before(upper) {
		upper = *rule.Until
	}
	if master.RecurrenceEnd != nil && master.RecurrenceEnd.Before(upper) {
		upper = *master.RecurrenceEnd
	}
	if upper.Before(master.Start) {
		return nil
	}

	// An empty weekday set for a weekly rule means "no valid days"; do not
	// fall back to the start day.
	if rule.Freq == FreqWeekly && len(rule.ByDay) == 0 {
		return nil
	}

	// Generation operates on date components anchored at the master's
	// start date; the master's wall-clock time of day is re-applied to
	// every candidate afterwards.
	candidates := generateDates(rule, master.Start, upper)

	excluded := make(map[string]struct{}, len(master.ExcludedDates))
	for _, d := range master.ExcludedDates {
		excluded[dateKey(d)] = struct{}{}
	}

	out := make([]model.Occurrence, 0, len(candidates))
	for _, start := range candidates {
		if start.Before(windowStart) || start.After(upper) {
			continue
		}
		// Exclusion comparison is date-only: an excluded date stored with a
		// different time of day still matches.
		if _, skip := excluded[dateKey(start)]; skip {
			continue
		}
		out = append(out, makeOccurrence(&master, start))
		if len(out) >= maxOccurrencesPerMaster {
			log.Error().
				Str("master_id", master.ID).
				Int("cap", maxOccurrencesPerMaster).
				Msg("expand: occurrence cap reached, truncating")
			break
		}
	}

	return out
}

// generateDates produces candidate occurrence starts in chronological order
// from the series anchor up to upper, honoring frequency, interval, weekday
// set and count termination. Count is consumed from the anchor onward, so a
// window that begins mid-series sees the correct tail of a counted series.
func generateDates(rule *Rule, anchor, upper time.Time) []time.Time {
	var out []time.Time
	emitted := 0

	emit := func(t time.Time) bool {
		if t.Before(anchor) {
			return true
		}
		if t.After(upper) {
			return false
		}
		emitted++
		out = append(out, t)
		if rule.Count > 0 && emitted >= rule.Count {
			return false
		}
		return true
	}

	switch rule.Freq {
	case FreqDaily:
		for i := 0; i < maxIterationsPerMaster; i++ {
			t := anchor.AddDate(0, 0, i*rule.Interval)
			if !emit(t) {
				return out
			}
		}

	case FreqWeekly:
		// Iterate week blocks starting from the anchor's ISO week (Monday
		// start), visiting the selected weekdays of each block in
		// chronological order. Candidates earlier than the anchor within
		// its own week are skipped by emit.
		blockStart := startOfISOWeek(anchor)
		offsets := weekdayOffsets(rule.ByDay)
		for i := 0; i < maxIterationsPerMaster; i++ {
			week := blockStart.AddDate(0, 0, 7*i*rule.Interval)
			for _, off := range offsets {
				t := week.AddDate(0, 0, off)
				if !emit(t) {
					return out
				}
			}
			if week.After(upper) {
				return out
			}
		}

	case FreqMonthly:
		// Same day-of-month each period; months without that day (e.g. the
		// 31st) are skipped rather than overflowed into the next month.
		y, m, d := anchor.Date()
		for i := 0; i < maxIterationsPerMaster; i++ {
			cy, cm := addMonths(y, int(m), i*rule.Interval)
			if d > daysInMonth(cy, time.Month(cm)) {
				if monthStart(cy, time.Month(cm), anchor).After(upper) {
					return out
				}
				continue
			}
			t := withDate(anchor, cy, time.Month(cm), d)
			if !emit(t) {
				return out
			}
		}

	case FreqYearly:
		// Same month and day each period; Feb 29 only lands in leap years.
		y, m, d := anchor.Date()
		for i := 0; i < maxIterationsPerMaster; i++ {
			cy := y + i*rule.Interval
			if d > daysInMonth(cy, m) {
				if monthStart(cy, m, anchor).After(upper) {
					return out
				}
				continue
			}
			t := withDate(anchor, cy, m, d)
			if !emit(t) {
				return out
			}
		}
	}

	return out
}

func makeOccurrence(master *model.MasterEvent, start time.Time) model.Occurrence {
	return model.Occurrence{
		Key:      model.OccurrenceKey(master.ID, start),
		MasterID: master.ID,
		Title:    master.Title,
		Type:     master.Type,
		AllDay:   master.AllDay,
		Start:    start,
		End:      start.Add(master.Duration()),
		Master:   master,
	}
}

// withDate rebuilds t's wall-clock time of day onto a new calendar date in
// t's own location.
func withDate(t time.Time, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// startOfISOWeek returns the Monday of t's week, keeping t's time of day.
func startOfISOWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return t.AddDate(0, 0, -offset)
}

// weekdayOffsets converts a weekday set into sorted day offsets from Monday.
func weekdayOffsets(days []time.Weekday) []int {
	seen := [7]bool{}
	for _, wd := range days {
		seen[(int(wd)+6)%7] = true
	}
	out := make([]int, 0, len(days))
	for off, ok := range seen {
		if ok {
			out = append(out, off)
		}
	}
	return out
}

func addMonths(y, m, n int) (int, int) {
	idx := y*12 + (m - 1) + n
	return idx / 12, idx%12 + 1
}

func daysInMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthStart(y int, m time.Month, like time.Time) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, like.Location())
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func rangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
