package recur

import (
	"testing"
	"time"
)

func TestBuildWeeklyOnDate(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // Monday
	rule := Build(FormConfig{
		Enabled:     true,
		Frequency:   "weekly",
		Interval:    2,
		Weekdays:    []string{"MO", "WE"},
		Termination: TerminationOnDate,
		EndDate:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Start:       start,
	})
	if rule == nil {
		t.Fatal("Build returned nil for valid config")
	}
	if rule.Freq != FreqWeekly || rule.Interval != 2 {
		t.Fatalf("unexpected rule: %+v", rule)
	}
	if len(rule.ByDay) != 2 || rule.ByDay[0] != time.Monday || rule.ByDay[1] != time.Wednesday {
		t.Fatalf("unexpected ByDay: %v", rule.ByDay)
	}
	if rule.Until == nil {
		t.Fatal("Until not set")
	}
	// The termination date is normalized to the end of its calendar day.
	want := time.Date(2024, 2, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if !rule.Until.Equal(want) {
		t.Fatalf("Until = %v, want %v", rule.Until, want)
	}
	if end := rule.SeriesEnd(); end == nil || !end.Equal(want) {
		t.Fatalf("SeriesEnd = %v, want %v", end, want)
	}
}

func TestBuildReturnsNil(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		fc   FormConfig
	}{
		{name: "disabled", fc: FormConfig{Enabled: false, Frequency: "daily", Start: start}},
		{name: "frequency unset", fc: FormConfig{Enabled: true, Start: start}},
		{name: "unknown frequency", fc: FormConfig{Enabled: true, Frequency: "hourly", Start: start}},
		{name: "count below one", fc: FormConfig{Enabled: true, Frequency: "daily", Termination: TerminationAfterCount, Count: 0, Start: start}},
		{name: "malformed weekday", fc: FormConfig{Enabled: true, Frequency: "weekly", Weekdays: []string{"MONDAY"}, Start: start}},
		{name: "on date without date", fc: FormConfig{Enabled: true, Frequency: "daily", Termination: TerminationOnDate, Start: start}},
		{name: "unknown termination", fc: FormConfig{Enabled: true, Frequency: "daily", Termination: "whenever", Start: start}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if rule := Build(tt.fc); rule != nil {
				t.Fatalf("Build returned %+v, want nil", rule)
			}
		})
	}
}

func TestBuildDefaultsIntervalAndTermination(t *testing.T) {
	t.Parallel()

	rule := Build(FormConfig{
		Enabled:   true,
		Frequency: "monthly",
		Interval:  0,
		Start:     time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC),
	})
	if rule == nil {
		t.Fatal("Build returned nil")
	}
	if rule.Interval != 1 {
		t.Fatalf("Interval = %d, want 1", rule.Interval)
	}
	if rule.Until != nil || rule.Count != 0 {
		t.Fatalf("expected unterminated rule, got %+v", rule)
	}
	if rule.SeriesEnd() != nil {
		t.Fatal("SeriesEnd should be nil for an unterminated rule")
	}
}
