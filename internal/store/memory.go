package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmcal/internal/model"
)

// Memory is an in-memory Store used by tests and the zero-config demo mode.
// Change notifications are delivered synchronously after each committed
// write, which keeps tests deterministic.
type Memory struct {
	mu      sync.Mutex
	masters map[string]model.MasterEvent

	subSeq int
	subs   map[int]func([]model.MasterEvent)
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		masters: map[string]model.MasterEvent{},
		subs:    map[int]func([]model.MasterEvent){},
	}
}

func (s *Memory) CreateMaster(_ context.Context, m model.MasterEvent) (string, error) {
	s.mu.Lock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.masters[m.ID] = m
	snapshot, subs := s.snapshotLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
	return m.ID, nil
}

func (s *Memory) UpdateMaster(_ context.Context, m model.MasterEvent) error {
	s.mu.Lock()
	if _, ok := s.masters[m.ID]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.masters[m.ID] = m
	snapshot, subs := s.snapshotLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

func (s *Memory) UpdateMasterTime(_ context.Context, id string, start, end time.Time, allDay bool) error {
	s.mu.Lock()
	m, ok := s.masters[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	m.Start = start
	m.End = end
	m.AllDay = allDay
	s.masters[id] = m
	snapshot, subs := s.snapshotLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

func (s *Memory) DeleteMaster(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.masters[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.masters, id)
	snapshot, subs := s.snapshotLocked()
	s.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

func (s *Memory) ListMasters(_ context.Context) ([]model.MasterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, _ := s.snapshotLocked()
	return snapshot, nil
}

func (s *Memory) Subscribe(onChange func([]model.MasterEvent), _ func(error)) func() {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = onChange
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Memory) Close() error { return nil }

// snapshotLocked returns a sorted copy of the master set and the current
// subscriber list. Callers must hold s.mu.
func (s *Memory) snapshotLocked() ([]model.MasterEvent, []func([]model.MasterEvent)) {
	out := make([]model.MasterEvent, 0, len(s.masters))
	for _, m := range s.masters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})

	subs := make([]func([]model.MasterEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return out, subs
}

func notify(subs []func([]model.MasterEvent), snapshot []model.MasterEvent) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
