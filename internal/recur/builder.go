package recur

import (
	"strings"
	"time"
)

// Termination modes accepted from the recurrence form.
const (
	TerminationNever      = "never"
	TerminationOnDate     = "on_date"
	TerminationAfterCount = "after_count"
)

// FormConfig is the form-level recurrence configuration as submitted by the
// event creation/edit UI.
type FormConfig struct {
	// Enabled mirrors the "repeat this event" checkbox.
	Enabled bool

	// Frequency is one of "daily", "weekly", "monthly", "yearly".
	Frequency string
	// Interval is the step between periods; values below 1 are treated as 1.
	Interval int
	// Weekdays holds iCalendar BYDAY tokens ("MO", "TU", ...) and is only
	// meaningful for weekly frequency.
	Weekdays []string

	// Termination selects the termination mode; empty means "never".
	Termination string
	// EndDate is the termination date for TerminationOnDate.
	EndDate time.Time
	// Count is the occurrence limit for TerminationAfterCount.
	Count int

	// Start is the series' first occurrence start; the rule is anchored at
	// this exact date-time so weekly/monthly/yearly phase is preserved.
	Start time.Time
}

// Build turns a form configuration into a canonical rule.
//
// It returns nil when recurrence is disabled or the frequency is unset, and
// also nil for invalid input (count below 1, malformed weekday token,
// unknown termination mode). Callers must treat nil-with-Enabled as a
// validation error and must not persist a recurring master without a rule.
func Build(fc FormConfig) *Rule {
	if !fc.Enabled {
		return nil
	}

	var freq Frequency
	switch strings.ToLower(strings.TrimSpace(fc.Frequency)) {
	case "daily":
		freq = FreqDaily
	case "weekly":
		freq = FreqWeekly
	case "monthly":
		freq = FreqMonthly
	case "yearly":
		freq = FreqYearly
	default:
		return nil
	}

	rule := &Rule{Freq: freq, Interval: fc.Interval}
	if rule.Interval < 1 {
		rule.Interval = 1
	}

	if freq == FreqWeekly {
		for _, tok := range fc.Weekdays {
			wd, ok := ParseWeekdayToken(tok)
			if !ok {
				return nil
			}
			rule.ByDay = append(rule.ByDay, wd)
		}
	}

	switch fc.Termination {
	case "", TerminationNever:
		// unterminated
	case TerminationOnDate:
		if fc.EndDate.IsZero() {
			return nil
		}
		until := EndOfDay(fc.EndDate)
		rule.Until = &until
	case TerminationAfterCount:
		if fc.Count < 1 {
			return nil
		}
		rule.Count = fc.Count
	default:
		return nil
	}

	return rule
}
