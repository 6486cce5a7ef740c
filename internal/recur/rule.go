package recur

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the base period of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// Rule is the canonical recurrence descriptor. It is the in-memory form of
// the persisted RRULE text; evaluation is done by Expand, not by an external
// RRULE engine.
//
// Invariant: at most one of Until / Count is set (both zero means the series
// never terminates). ByDay is empty unless Freq is FreqWeekly.
type Rule struct {
	Freq     Frequency
	Interval int

	// ByDay is the weekday set for weekly rules, in iCalendar token order
	// as given by the user.
	ByDay []time.Weekday

	// Until is the inclusive end of the series, normalized to the end of
	// its calendar day (23:59:59.999).
	Until *time.Time
	// Count limits the series to the first N occurrences counted from the
	// anchor. Zero means unlimited.
	Count int
}

// weekday token table, Sunday first as in iCalendar.
var weekdayTokens = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayToken returns the iCalendar BYDAY token for wd.
func WeekdayToken(wd time.Weekday) string {
	return weekdayTokens[int(wd)%7]
}

// ParseWeekdayToken maps an iCalendar BYDAY token back to a time.Weekday.
func ParseWeekdayToken(tok string) (time.Weekday, bool) {
	tok = strings.ToUpper(strings.TrimSpace(tok))
	for i, t := range weekdayTokens {
		if t == tok {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

const untilLayout = "20060102T150405Z"

// Encode renders the rule as RRULE-compatible text, the only bit-exact
// persisted format:
//
//	FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE;UNTIL=20240201T235959Z
//
// Key order is fixed so that encoding is deterministic.
func (r *Rule) Encode() string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(string(r.Freq))

	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	b.WriteString(";INTERVAL=")
	b.WriteString(strconv.Itoa(interval))

	if r.Freq == FreqWeekly && len(r.ByDay) > 0 {
		b.WriteString(";BYDAY=")
		for i, wd := range r.ByDay {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(WeekdayToken(wd))
		}
	}

	switch {
	case r.Until != nil:
		b.WriteString(";UNTIL=")
		b.WriteString(r.Until.UTC().Format(untilLayout))
	case r.Count > 0:
		b.WriteString(";COUNT=")
		b.WriteString(strconv.Itoa(r.Count))
	}

	return b.String()
}

// SeriesEnd returns the rule's own upper bound, or nil for count-based and
// unterminated rules. Callers cache it on the master as RecurrenceEnd for
// cheap range pruning.
func (r *Rule) SeriesEnd() *time.Time {
	if r.Until == nil {
		return nil
	}
	t := *r.Until
	return &t
}

// Parse decodes persisted RRULE text into a Rule. It accepts the subset this
// engine produces (FREQ/INTERVAL/BYDAY/UNTIL/COUNT) and rejects everything
// else so that malformed or out-of-scope rules are contained at this
// boundary instead of producing surprise occurrences.
func Parse(raw string) (*Rule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty rule")
	}

	rule := &Rule{Interval: 1}
	seenFreq := false

	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return nil, fmt.Errorf("malformed component %q", part)
		}

		switch strings.ToUpper(key) {
		case "FREQ":
			switch Frequency(strings.ToUpper(value)) {
			case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
				rule.Freq = Frequency(strings.ToUpper(value))
				seenFreq = true
			default:
				return nil, fmt.Errorf("unsupported FREQ %q", value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid INTERVAL %q", value)
			}
			rule.Interval = n
		case "BYDAY":
			for _, tok := range strings.Split(value, ",") {
				wd, ok := ParseWeekdayToken(tok)
				if !ok {
					return nil, fmt.Errorf("invalid BYDAY token %q", tok)
				}
				rule.ByDay = append(rule.ByDay, wd)
			}
		case "UNTIL":
			t, err := parseUntil(value)
			if err != nil {
				return nil, fmt.Errorf("invalid UNTIL %q: %w", value, err)
			}
			rule.Until = &t
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid COUNT %q", value)
			}
			rule.Count = n
		default:
			return nil, fmt.Errorf("unsupported component %q", key)
		}
	}

	if !seenFreq {
		return nil, errors.New("missing FREQ")
	}
	if rule.Until != nil && rule.Count > 0 {
		return nil, errors.New("UNTIL and COUNT are mutually exclusive")
	}
	if rule.Freq != FreqWeekly && len(rule.ByDay) > 0 {
		return nil, errors.New("BYDAY is only valid with FREQ=WEEKLY")
	}

	return rule, nil
}

// parseUntil parses the UNTIL value in UTC, local date-time, or date-only
// form.
func parseUntil(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse(untilLayout, v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}

// EndOfDay normalizes t to 23:59:59.999 of its calendar day, the stored form
// of an on-date termination.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
