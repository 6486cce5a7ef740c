// Package remind schedules best-effort local reminders for the currently
// materialized occurrence set. Timers live in memory only: nothing survives
// a restart, and there is no delivery guarantee.
package remind

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crmcal/internal/model"
)

// Notification is the payload handed to the Notifier.
type Notification struct {
	Body string
	Icon string
	// DedupeKey is the occurrence identity; notifiers use it to suppress
	// duplicate notifications for the same occurrence.
	DedupeKey string
}

// Notifier is the fire-and-forget notification capability. There is no
// delivery confirmation.
type Notifier interface {
	Show(title string, n Notification)
}

// Scheduler derives per-occurrence fire times and manages the in-memory
// timer set.
//
// The active timer set is always owned and replaced as a whole: every
// Reschedule cancels all previously scheduled timers before scheduling new
// ones. There is no incremental diffing; full replacement is how
// no-missed/no-duplicate reminders within a session are guaranteed.
type Scheduler struct {
	log      zerolog.Logger
	notifier Notifier

	// permitted is the injected permission check; when it reports false,
	// scheduling is skipped entirely (no queuing for later).
	permitted func() bool

	// now is the clock, swappable in tests.
	now func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
	// gen identifies the current timer set; a firing timer from a replaced
	// set recognizes itself as stale and stays silent.
	gen uint64
}

// NewScheduler wires the scheduler to its notification capability and
// permission check. A nil permitted func means "always allowed".
func NewScheduler(notifier Notifier, permitted func() bool, log zerolog.Logger) *Scheduler {
	if permitted == nil {
		permitted = func() bool { return true }
	}
	return &Scheduler{
		log:       log,
		notifier:  notifier,
		permitted: permitted,
		now:       time.Now,
		timers:    map[string]*time.Timer{},
	}
}

// Reschedule replaces the active timer set with timers for the given
// occurrence set. Occurrences without a reminder offset, and fire times
// already in the past, are skipped.
func (s *Scheduler) Reschedule(occs []model.Occurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelAllLocked()

	if !s.permitted() {
		s.log.Debug().Msg("remind: notifications not permitted, skipping scheduling")
		return
	}

	now := s.now()
	for _, occ := range occs {
		if occ.Master == nil || occ.Master.ReminderMinutes == nil {
			continue
		}
		offset := time.Duration(*occ.Master.ReminderMinutes) * time.Minute
		fireAt := occ.Start.Add(-offset)
		if !fireAt.After(now) {
			continue
		}

		occ := occ
		key := occ.Key
		gen := s.gen
		s.timers[key] = time.AfterFunc(fireAt.Sub(now), func() {
			s.fire(gen, key, occ)
		})
	}

	s.log.Debug().Int("timers", len(s.timers)).Msg("remind: timer set replaced")
}

// Stop cancels every scheduled timer. Called when the engine's host context
// is torn down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAllLocked()
}

// Active returns the number of currently scheduled timers.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) cancelAllLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.gen++
}

func (s *Scheduler) fire(gen uint64, key string, occ model.Occurrence) {
	s.mu.Lock()
	// A timer that lost the race against a concurrent Reschedule/Stop
	// belongs to a replaced set and must not notify.
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	s.mu.Unlock()

	s.notifier.Show(occ.Title, Notification{
		Body:      occ.Start.Format("Mon Jan 2 15:04"),
		Icon:      occ.Type.Color(),
		DedupeKey: key,
	})
}
