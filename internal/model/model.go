package model

import "time"

// EventType is the enumerated category of a master event. Each type carries
// a default duration (used when the user never set an explicit end) and a
// display color for the calendar UI.
type EventType string

const (
	EventTypeCall     EventType = "call"
	EventTypeMeeting  EventType = "meeting"
	EventTypeDemo     EventType = "demo"
	EventTypeFollowUp EventType = "follow_up"
	EventTypeTask     EventType = "task"
	EventTypeOther    EventType = "other"
)

// typeDefaults maps each type to its default duration and display color.
// A zero duration means "no configured default"; callers then fall back to
// end == start.
var typeDefaults = map[EventType]struct {
	duration time.Duration
	color    string
}{
	EventTypeCall:     {15 * time.Minute, "#2563eb"},
	EventTypeMeeting:  {30 * time.Minute, "#16a34a"},
	EventTypeDemo:     {60 * time.Minute, "#9333ea"},
	EventTypeFollowUp: {15 * time.Minute, "#ea580c"},
	EventTypeTask:     {0, "#64748b"},
	EventTypeOther:    {0, "#475569"},
}

// DefaultDuration returns the configured default duration for the type,
// or zero if the type has none (including unknown types).
func (t EventType) DefaultDuration() time.Duration {
	return typeDefaults[t].duration
}

// Color returns the display color for the type.
func (t EventType) Color() string {
	if d, ok := typeDefaults[t]; ok {
		return d.color
	}
	return typeDefaults[EventTypeOther].color
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := typeDefaults[t]
	return ok
}

// MasterEvent is the persisted template for either a one-off event or an
// entire recurring series.
//
// Invariant: RawRule is non-empty if and only if Recurring is true. When
// Recurring is false, Start/End describe the single occurrence directly.
type MasterEvent struct {
	ID    string
	Title string
	Type  EventType

	Start  time.Time
	End    time.Time
	AllDay bool

	Recurring bool
	// RawRule is the persisted RRULE-compatible rule text
	// (FREQ=...;INTERVAL=...;BYDAY=...;UNTIL=...|COUNT=...), anchored by
	// Start as DTSTART. It is parsed at expansion time so that a malformed
	// stored rule never takes other events down with it.
	RawRule string
	// ExcludedDates are calendar dates on which an otherwise-matching
	// occurrence is suppressed. Only the date component is significant.
	ExcludedDates []time.Time
	// RecurrenceEnd caches the rule's own upper bound (when it has one)
	// for cheap range pruning.
	RecurrenceEnd *time.Time

	// ReminderMinutes is the reminder offset before an occurrence's start,
	// or nil when no reminder is wanted.
	ReminderMinutes *int

	Location  string
	Attendees string
	Notes     string

	// Optional links into the surrounding CRM.
	ContactID string
	DealID    string
}

// Duration returns the series duration End - Start. It is invariant across
// all occurrences of a recurring series.
func (m MasterEvent) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// Occurrence is one concrete, ephemeral instance of a MasterEvent,
// materialized only for display within a time window. It is produced fresh
// on every expansion and never persisted.
type Occurrence struct {
	// Key uniquely identifies this occurrence: master ID plus the ISO date
	// of its start.
	Key string

	MasterID string
	Title    string
	Type     EventType
	AllDay   bool

	Start time.Time
	End   time.Time

	// Master is a back-reference for edit/delete actions on the series.
	Master *MasterEvent
}

// OccurrenceKey derives the identity of an occurrence from its master and
// start time.
func OccurrenceKey(masterID string, start time.Time) string {
	return masterID + "/" + start.Format("2006-01-02")
}
