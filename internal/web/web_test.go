package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crmcal/internal/config"
	"crmcal/internal/logging"
	"crmcal/internal/store"
	"crmcal/internal/view"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })

	ref := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) // Monday
	ctrl := view.NewController(st, view.ModeWeek, ref, time.UTC, 30, logging.Nop())

	unsub := st.Subscribe(ctrl.SetMasters, nil)
	t.Cleanup(unsub)

	return NewServer(st, ctrl, time.UTC, nil, logging.Nop()), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListEvents(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	// Click-created call with no explicit end: the type default applies.
	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Intro call",
		"type":  "call",
		"start": "2026-03-02T10:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created masterDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created master has empty id")
	}
	if got := created.End.Sub(created.Start); got != 15*time.Minute {
		t.Fatalf("default call duration = %v, want 15m", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/events?view=week&date=2026-03-02", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("events status = %d", rec.Code)
	}
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events response: %v", err)
	}
	if len(resp.Occurrences) != 1 {
		t.Fatalf("occurrence count = %d, want 1", len(resp.Occurrences))
	}
	if resp.Occurrences[0].MasterID != created.ID {
		t.Fatalf("occurrence master = %q, want %q", resp.Occurrences[0].MasterID, created.ID)
	}
	if resp.Mode != "week" {
		t.Fatalf("mode = %q, want week", resp.Mode)
	}
}

func TestCreateRecurringValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	// Weekly recurrence with a bad weekday token must be rejected, not
	// silently stored as non-recurring.
	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Sync",
		"type":  "meeting",
		"start": "2026-03-02T09:00:00Z",
		"recurrence": map[string]any{
			"enabled":   true,
			"frequency": "weekly",
			"weekdays":  []string{"MO", "XX"},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "recurrence") {
		t.Fatalf("error body does not mention recurrence: %s", rec.Body.String())
	}
}

func TestRecurringTimeEditRejected(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Standup",
		"type":  "meeting",
		"start": "2026-03-02T09:00:00Z",
		"recurrence": map[string]any{
			"enabled":   true,
			"frequency": "weekly",
			"weekdays":  []string{"MO"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created masterDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/masters/"+created.ID+"/time", map[string]any{
		"start": "2026-03-02T10:00:00Z",
		"end":   "2026-03-02T10:30:00Z",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("recurring time edit status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
}

func TestMoveOneOffEvent(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Demo",
		"type":  "demo",
		"start": "2026-03-03T14:00:00Z",
		"end":   "2026-03-03T15:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created masterDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPut, "/api/masters/"+created.ID+"/time", map[string]any{
		"start": "2026-03-04T09:00:00Z",
		"end":   "2026-03-04T10:00:00Z",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("move status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/events?view=day&date=2026-03-04", nil)
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Occurrences) != 1 {
		t.Fatalf("moved occurrence not found on new day: %d occurrences", len(resp.Occurrences))
	}
}

func TestExcludeOccurrence(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Standup",
		"type":  "meeting",
		"start": "2026-03-02T09:00:00Z",
		"recurrence": map[string]any{
			"enabled":   true,
			"frequency": "daily",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created masterDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodDelete,
		fmt.Sprintf("/api/masters/%s/occurrences/2026-03-04", created.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("exclude status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/events?view=week&date=2026-03-02", nil)
	var resp eventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	for _, occ := range resp.Occurrences {
		if occ.Start.Format("2006-01-02") == "2026-03-04" {
			t.Fatalf("excluded occurrence still present: %+v", occ)
		}
	}
	if len(resp.Occurrences) != 6 {
		t.Fatalf("occurrence count after exclusion = %d, want 6", len(resp.Occurrences))
	}
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	ctrl := view.NewController(st, view.ModeWeek, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.UTC, 30, logging.Nop())

	creds := &config.BasicAuthConfig{Username: "alice", Password: "s3cret"}
	authed := NewServer(st, ctrl, time.UTC, creds, logging.Nop()).Handler()

	// /health is open.
	rec := doJSON(t, authed, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	// API requires credentials.
	rec = doJSON(t, authed, http.MethodGet, "/api/masters", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/masters", nil)
	req.SetBasicAuth("alice", "s3cret")
	rr := httptest.NewRecorder()
	authed.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rr.Code)
	}
}

func TestExportICS(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/masters", map[string]any{
		"title": "Pipeline review",
		"type":  "meeting",
		"start": "2026-03-02T09:00:00Z",
		"recurrence": map[string]any{
			"enabled":   true,
			"frequency": "weekly",
			"weekdays":  []string{"MO"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/export.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Pipeline review", "RRULE:FREQ=WEEKLY"} {
		if !strings.Contains(body, want) {
			t.Fatalf("export missing %q:\n%s", want, body)
		}
	}
}
