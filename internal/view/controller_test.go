package view

import (
	"context"
	"errors"
	"testing"
	"time"

	"crmcal/internal/logging"
	"crmcal/internal/model"
	"crmcal/internal/store"
)

func weekControllerFixture(t *testing.T) (*Controller, *store.Memory, string) {
	t.Helper()

	mem := store.NewMemory()
	ctx := context.Background()

	// Recurring Monday standup inside the reference week.
	if _, err := mem.CreateMaster(ctx, model.MasterEvent{
		ID:        "standup",
		Title:     "Standup",
		Type:      model.EventTypeMeeting,
		Start:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		Recurring: true,
		RawRule:   "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO",
	}); err != nil {
		t.Fatalf("seed recurring master: %v", err)
	}

	// One-off event in the same week.
	oneOffID, err := mem.CreateMaster(ctx, model.MasterEvent{
		Title: "Contract review",
		Type:  model.EventTypeCall,
		Start: time.Date(2024, 2, 14, 15, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 14, 15, 15, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed one-off master: %v", err)
	}

	// One-off far outside any window under test.
	if _, err := mem.CreateMaster(ctx, model.MasterEvent{
		Title: "Yearly kickoff",
		Type:  model.EventTypeMeeting,
		Start: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed distant master: %v", err)
	}

	ref := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC) // Thursday
	c := NewController(mem, ModeWeek, ref, time.UTC, 0, logging.Nop())

	masters, err := mem.ListMasters(ctx)
	if err != nil {
		t.Fatalf("ListMasters: %v", err)
	}
	c.SetMasters(masters)
	return c, mem, oneOffID
}

func TestControllerMergesRecurringAndOneOff(t *testing.T) {
	t.Parallel()

	c, _, _ := weekControllerFixture(t)
	occs := c.Occurrences()

	// Week of Feb 12-18: the Monday standup on Feb 12 plus the one-off on
	// Feb 14. The buffer must not leak adjacent standups into the result.
	if len(occs) != 2 {
		t.Fatalf("got %d occurrences, want 2: %+v", len(occs), occs)
	}
	if occs[0].Title != "Standup" || occs[0].Start.Day() != 12 {
		t.Fatalf("first occurrence = %+v", occs[0])
	}
	if occs[1].Title != "Contract review" || occs[1].Start.Day() != 14 {
		t.Fatalf("second occurrence = %+v", occs[1])
	}
}

func TestControllerNavigationAndModeChange(t *testing.T) {
	t.Parallel()

	c, _, _ := weekControllerFixture(t)

	var sets [][]model.Occurrence
	c.SetOnOccurrences(func(occs []model.Occurrence) { sets = append(sets, occs) })

	c.Navigate(1) // week of Feb 19-25
	if len(sets) != 1 {
		t.Fatalf("navigation did not recompute: %d sets", len(sets))
	}
	occs := sets[len(sets)-1]
	if len(occs) != 1 || occs[0].Start.Day() != 19 {
		t.Fatalf("next week should hold only the Feb 19 standup: %+v", occs)
	}

	c.SetMode(ModeDay)
	if got := c.Window(); got.Start.Day() != 22 {
		// Navigate moved the reference from Feb 15 to Feb 22.
		t.Fatalf("day window start = %v", got.Start)
	}

	c.Today(time.Date(2024, 2, 14, 8, 0, 0, 0, time.UTC))
	occs = sets[len(sets)-1]
	if len(occs) != 1 || occs[0].Title != "Contract review" {
		t.Fatalf("today view should hold the Feb 14 one-off: %+v", occs)
	}
}

func TestControllerMoveResizeOptimistic(t *testing.T) {
	t.Parallel()

	c, _, oneOffID := weekControllerFixture(t)
	ctx := context.Background()

	newStart := time.Date(2024, 2, 14, 17, 0, 0, 0, time.UTC)
	if err := c.MoveResize(ctx, oneOffID, newStart, newStart.Add(15*time.Minute), false); err != nil {
		t.Fatalf("MoveResize: %v", err)
	}

	occs := c.Occurrences()
	found := false
	for _, occ := range occs {
		if occ.MasterID == oneOffID {
			found = true
			if !occ.Start.Equal(newStart) {
				t.Fatalf("move not applied: %v", occ.Start)
			}
		}
	}
	if !found {
		t.Fatal("moved occurrence disappeared from window")
	}
}

func TestControllerMoveResizeRejectsRecurring(t *testing.T) {
	t.Parallel()

	c, _, _ := weekControllerFixture(t)
	err := c.MoveResize(context.Background(), "standup",
		time.Date(2024, 2, 12, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 12, 11, 30, 0, 0, time.UTC), false)
	if !errors.Is(err, ErrRecurringTimeEdit) {
		t.Fatalf("got %v, want ErrRecurringTimeEdit", err)
	}
}

// failingTimeStore wraps a Store and fails every UpdateMasterTime call.
type failingTimeStore struct {
	store.Store
}

var errStoreDown = errors.New("store unavailable")

func (f failingTimeStore) UpdateMasterTime(context.Context, string, time.Time, time.Time, bool) error {
	return errStoreDown
}

func TestControllerMoveResizeRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	ctx := context.Background()
	origStart := time.Date(2024, 2, 14, 15, 0, 0, 0, time.UTC)
	id, err := mem.CreateMaster(ctx, model.MasterEvent{
		Title: "Contract review",
		Type:  model.EventTypeCall,
		Start: origStart,
		End:   origStart.Add(15 * time.Minute),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ref := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	c := NewController(failingTimeStore{mem}, ModeWeek, ref, time.UTC, 0, logging.Nop())
	masters, _ := mem.ListMasters(ctx)
	c.SetMasters(masters)

	err = c.MoveResize(ctx, id, origStart.Add(2*time.Hour), origStart.Add(3*time.Hour), false)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("got %v, want wrapped errStoreDown", err)
	}

	// The optimistic mutation is rolled back to the pre-operation value.
	occs := c.Occurrences()
	if len(occs) != 1 || !occs[0].Start.Equal(origStart) {
		t.Fatalf("rollback failed: %+v", occs)
	}
}
