package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crmcal/internal/model"
	"crmcal/internal/recur"
	"crmcal/internal/store"
)

// ErrRecurringTimeEdit is returned when drag/resize is attempted on a
// recurring master. Per-occurrence overrides are not supported; the edit is
// rejected rather than silently rewriting the whole series.
var ErrRecurringTimeEdit = errors.New("drag/resize is not supported for recurring events")

// Controller owns the visible time window and drives occurrence expansion
// for the masters currently loaded from the store.
//
// All methods are safe for concurrent use, but the engine itself is
// event-driven: expansion runs synchronously on whatever goroutine triggers
// it (navigation, view change, store data arrival).
type Controller struct {
	log   zerolog.Logger
	store store.Store
	loc   *time.Location

	mu         sync.Mutex
	mode       Mode
	ref        time.Time
	agendaDays int
	masters    []model.MasterEvent

	// onOccurrences observes every recomputed occurrence set (reminder
	// rescheduling hooks in here).
	onOccurrences func([]model.Occurrence)
}

// NewController creates a controller starting in the given mode at the
// given reference date.
func NewController(st store.Store, mode Mode, ref time.Time, loc *time.Location, agendaDays int, log zerolog.Logger) *Controller {
	if loc == nil {
		loc = time.Local
	}
	if !mode.Valid() {
		mode = ModeWeek
	}
	return &Controller{
		log:        log,
		store:      st,
		loc:        loc,
		mode:       mode,
		ref:        ref.In(loc),
		agendaDays: agendaDays,
	}
}

// SetOnOccurrences registers the observer invoked after every recompute.
func (c *Controller) SetOnOccurrences(fn func([]model.Occurrence)) {
	c.mu.Lock()
	c.onOccurrences = fn
	c.mu.Unlock()
}

// SetMasters replaces the loaded master set. It is the store subscription
// callback: fresh data triggers a recompute.
func (c *Controller) SetMasters(masters []model.MasterEvent) {
	c.mu.Lock()
	c.masters = append([]model.MasterEvent(nil), masters...)
	c.recomputeLocked()
	c.mu.Unlock()
}

// SetMode switches the active view and recomputes.
func (c *Controller) SetMode(mode Mode) {
	if !mode.Valid() {
		return
	}
	c.mu.Lock()
	c.mode = mode
	c.recomputeLocked()
	c.mu.Unlock()
}

// Navigate moves the reference date by steps view-periods (negative for
// prev, positive for next) and recomputes.
func (c *Controller) Navigate(steps int) {
	c.mu.Lock()
	switch c.mode {
	case ModeDay:
		c.ref = c.ref.AddDate(0, 0, steps)
	case ModeWeek:
		c.ref = c.ref.AddDate(0, 0, 7*steps)
	case ModeMonth:
		c.ref = c.ref.AddDate(0, steps, 0)
	case ModeAgenda:
		days := c.agendaDays
		if days <= 0 {
			days = DefaultAgendaDays
		}
		c.ref = c.ref.AddDate(0, 0, days*steps)
	}
	c.recomputeLocked()
	c.mu.Unlock()
}

// Today resets the reference date and recomputes.
func (c *Controller) Today(now time.Time) {
	c.mu.Lock()
	c.ref = now.In(c.loc)
	c.recomputeLocked()
	c.mu.Unlock()
}

// Mode returns the active view mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Window returns the precise (un-buffered) window of the active view.
func (c *Controller) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Compute(c.mode, c.ref, c.loc, c.agendaDays)
}

// Occurrences materializes the occurrence set for the active window:
// recurring masters are expanded over the buffered window, one-off masters
// that intersect it are merged in, and the result is filtered back to the
// precise window and sorted ascending by start.
func (c *Controller) Occurrences() []model.Occurrence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occurrencesLocked()
}

func (c *Controller) occurrencesLocked() []model.Occurrence {
	precise := Compute(c.mode, c.ref, c.loc, c.agendaDays)
	buffered := precise.Buffered()

	out := make([]model.Occurrence, 0, len(c.masters))
	for i := range c.masters {
		occs := recur.Expand(c.masters[i], buffered.Start, buffered.End, c.log)
		for _, occ := range occs {
			// The buffer is a safety margin only; rendering filters to the
			// precise window.
			if precise.Overlaps(occ.Start, occ.End) {
				out = append(out, occ)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (c *Controller) recomputeLocked() {
	if c.onOccurrences == nil {
		return
	}
	c.onOccurrences(c.occurrencesLocked())
}

// MoveResize applies a drag/resize time mutation to a non-recurring master.
//
// It follows the optimistic-update discipline: the local master set is
// updated immediately, the persistence call is issued, and on failure the
// prior state is restored so the visible calendar never shows a partial
// write.
func (c *Controller) MoveResize(ctx context.Context, id string, start, end time.Time, allDay bool) error {
	c.mu.Lock()
	idx := -1
	for i := range c.masters {
		if c.masters[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return store.ErrNotFound
	}
	if c.masters[idx].Recurring {
		c.mu.Unlock()
		return ErrRecurringTimeEdit
	}

	prior := c.masters[idx]
	c.masters[idx].Start = start
	c.masters[idx].End = end
	c.masters[idx].AllDay = allDay
	c.recomputeLocked()
	c.mu.Unlock()

	if err := c.store.UpdateMasterTime(ctx, id, start, end, allDay); err != nil {
		c.mu.Lock()
		// Roll back to the pre-operation value if the entry is still ours.
		for i := range c.masters {
			if c.masters[i].ID == id {
				c.masters[i] = prior
				break
			}
		}
		c.recomputeLocked()
		c.mu.Unlock()

		c.log.Warn().Err(err).Str("master_id", id).Msg("view: time update failed, rolled back")
		return fmt.Errorf("update master time: %w", err)
	}
	return nil
}
