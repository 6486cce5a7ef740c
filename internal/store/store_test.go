package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"crmcal/internal/logging"
	"crmcal/internal/model"
)

func testMaster(title string, start time.Time) model.MasterEvent {
	return model.MasterEvent{
		Title: title,
		Type:  model.EventTypeMeeting,
		Start: start,
		End:   start.Add(30 * time.Minute),
	}
}

func TestMemoryCRUDAndSubscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemory()

	var notified [][]model.MasterEvent
	unsub := s.Subscribe(func(ms []model.MasterEvent) {
		notified = append(notified, ms)
	}, nil)
	defer unsub()

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	id, err := s.CreateMaster(ctx, testMaster("Pipeline review", start))
	if err != nil {
		t.Fatalf("CreateMaster: %v", err)
	}
	if id == "" {
		t.Fatal("CreateMaster returned empty id")
	}
	if len(notified) != 1 || len(notified[0]) != 1 {
		t.Fatalf("expected 1 notification with 1 master, got %v", notified)
	}

	if err := s.UpdateMasterTime(ctx, id, start.Add(time.Hour), start.Add(90*time.Minute), false); err != nil {
		t.Fatalf("UpdateMasterTime: %v", err)
	}
	got, err := s.ListMasters(ctx)
	if err != nil {
		t.Fatalf("ListMasters: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(start.Add(time.Hour)) {
		t.Fatalf("time update not applied: %+v", got)
	}

	if err := s.DeleteMaster(ctx, id); err != nil {
		t.Fatalf("DeleteMaster: %v", err)
	}
	if err := s.DeleteMaster(ctx, id); err != ErrNotFound {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
	if len(notified) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(notified))
	}

	// After unsubscribe, no further notifications arrive.
	unsub()
	if _, err := s.CreateMaster(ctx, testMaster("After unsub", start)); err != nil {
		t.Fatalf("CreateMaster: %v", err)
	}
	if len(notified) != 3 {
		t.Fatalf("notification after unsubscribe: %d", len(notified))
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := OpenSQLite(SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "crmcal.db"),
		BusyTimeout: time.Second,
	}, logging.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	offset := 15
	until := time.Date(2024, 6, 30, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	in := model.MasterEvent{
		Title:     "Weekly sync",
		Type:      model.EventTypeCall,
		Start:     time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 5, 6, 10, 15, 0, 0, time.UTC),
		Recurring: true,
		RawRule:   "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO",
		ExcludedDates: []time.Time{
			time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		},
		RecurrenceEnd:   &until,
		ReminderMinutes: &offset,
		Location:        "Zoom",
		ContactID:       "contact-1",
	}

	id, err := s.CreateMaster(ctx, in)
	if err != nil {
		t.Fatalf("CreateMaster: %v", err)
	}

	masters, err := s.ListMasters(ctx)
	if err != nil {
		t.Fatalf("ListMasters: %v", err)
	}
	if len(masters) != 1 {
		t.Fatalf("got %d masters, want 1", len(masters))
	}
	got := masters[0]

	if got.ID != id || got.Title != in.Title || got.Type != in.Type {
		t.Fatalf("identity fields differ: %+v", got)
	}
	if !got.Start.Equal(in.Start) || !got.End.Equal(in.End) {
		t.Fatalf("time fields differ: %+v", got)
	}
	if !got.Recurring || got.RawRule != in.RawRule {
		t.Fatalf("rule fields differ: %+v", got)
	}
	if len(got.ExcludedDates) != 1 || got.ExcludedDates[0].Format("2006-01-02") != "2024-05-20" {
		t.Fatalf("excluded dates differ: %v", got.ExcludedDates)
	}
	if got.RecurrenceEnd == nil || !got.RecurrenceEnd.Equal(until) {
		t.Fatalf("recurrence end differs: %v", got.RecurrenceEnd)
	}
	if got.ReminderMinutes == nil || *got.ReminderMinutes != offset {
		t.Fatalf("reminder offset differs: %v", got.ReminderMinutes)
	}
	if got.Location != "Zoom" || got.ContactID != "contact-1" {
		t.Fatalf("detail fields differ: %+v", got)
	}

	if err := s.UpdateMaster(ctx, modifyTitle(got, "Weekly sync (EMEA)")); err != nil {
		t.Fatalf("UpdateMaster: %v", err)
	}
	masters, _ = s.ListMasters(ctx)
	if masters[0].Title != "Weekly sync (EMEA)" {
		t.Fatalf("update not applied: %+v", masters[0])
	}

	if err := s.UpdateMaster(ctx, modifyTitle(model.MasterEvent{ID: "missing"}, "x")); err != ErrNotFound {
		t.Fatalf("update of missing master: got %v, want ErrNotFound", err)
	}
}

func modifyTitle(m model.MasterEvent, title string) model.MasterEvent {
	m.Title = title
	return m
}
