// Package session holds per-edit-session state for the event form. A
// session is created when the creation/edit form opens and discarded when
// it closes; nothing here is persisted.
package session

import (
	"time"

	"crmcal/internal/model"
)

// EndMode says whether the session's end time is derived from the event
// type's default duration or was fixed directly by the user.
type EndMode int

const (
	// NoExplicitEnd means the end is recomputed from the type default
	// whenever type or start changes.
	NoExplicitEnd EndMode = iota
	// ExplicitEnd means the user set the end directly; it is frozen for
	// the rest of the session.
	ExplicitEnd
)

// DurationPolicy resolves the ambiguity between user-driven and type-driven
// event duration for one form session.
//
// The machine has exactly two states. It starts in NoExplicitEnd only for
// single-click creation; drag-select spans and existing events are
// authoritative and start (and stay) in ExplicitEnd. Any direct edit of the
// end field moves the session to ExplicitEnd permanently, so automatic
// recomputation never fights the user's explicit choice.
type DurationPolicy struct {
	mode  EndMode
	typ   model.EventType
	start time.Time
	end   time.Time
}

// NewFromClick starts a session for single-click creation: the end is the
// start plus the type's default duration, or the start itself when the type
// has no configured default.
func NewFromClick(typ model.EventType, start time.Time) *DurationPolicy {
	p := &DurationPolicy{mode: NoExplicitEnd, typ: typ, start: start}
	p.recompute()
	return p
}

// NewFromDragSelect starts a session for drag-select creation; the dragged
// span is authoritative.
func NewFromDragSelect(typ model.EventType, start, end time.Time) *DurationPolicy {
	return &DurationPolicy{mode: ExplicitEnd, typ: typ, start: start, end: end}
}

// NewFromExisting starts a session for editing a persisted event. An
// existing event's duration is never recomputed automatically.
func NewFromExisting(typ model.EventType, start, end time.Time) *DurationPolicy {
	return &DurationPolicy{mode: ExplicitEnd, typ: typ, start: start, end: end}
}

// SetType records a type change. While NoExplicitEnd the end is recomputed
// from the new type's default.
func (p *DurationPolicy) SetType(typ model.EventType) {
	p.typ = typ
	if p.mode == NoExplicitEnd {
		p.recompute()
	}
}

// SetStart records a change of the start date or time. While NoExplicitEnd
// the end follows the new start.
func (p *DurationPolicy) SetStart(start time.Time) {
	p.start = start
	if p.mode == NoExplicitEnd {
		p.recompute()
	}
}

// SetEnd records a direct user edit of the end date/time field and freezes
// the end for the rest of the session.
func (p *DurationPolicy) SetEnd(end time.Time) {
	p.mode = ExplicitEnd
	p.end = end
}

func (p *DurationPolicy) recompute() {
	p.end = p.start.Add(p.typ.DefaultDuration())
}

// Mode returns the current state.
func (p *DurationPolicy) Mode() EndMode { return p.mode }

// Start returns the session's current start.
func (p *DurationPolicy) Start() time.Time { return p.start }

// End returns the session's current end.
func (p *DurationPolicy) End() time.Time { return p.end }
