// Package web exposes the scheduling engine over HTTP: calendar views,
// master-event CRUD, drag/resize edits, occurrence exclusion and an
// iCalendar export feed.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crmcal/internal/config"
	"crmcal/internal/ics"
	"crmcal/internal/model"
	"crmcal/internal/recur"
	"crmcal/internal/session"
	"crmcal/internal/store"
	"crmcal/internal/view"
)

const (
	dateParamLayout = "2006-01-02"

	// Short TTL: the cache only collapses bursts of identical view requests
	// (e.g. the UI re-fetching after focus changes). Any mutation clears it.
	eventsCacheTTL = 5 * time.Second
)

// Server provides the HTTP API for the calendar engine.
type Server struct {
	log        zerolog.Logger
	store      store.Store
	controller *view.Controller
	loc        *time.Location
	basicAuth  *config.BasicAuthConfig
	mux        *http.ServeMux

	// In-memory cache for /api/events responses keyed by view+date.
	eventsMu    sync.Mutex
	eventsCache map[string]eventsCacheEntry
}

type eventsCacheEntry struct {
	resp      eventsResponse
	updatedAt time.Time
}

// NewServer constructs a Server around an existing store and view controller.
func NewServer(st store.Store, ctrl *view.Controller, loc *time.Location, auth *config.BasicAuthConfig, log zerolog.Logger) *Server {
	s := &Server{
		log:         log.With().Str("component", "web").Logger(),
		store:       st,
		controller:  ctrl,
		loc:         loc,
		basicAuth:   auth,
		mux:         http.NewServeMux(),
		eventsCache: make(map[string]eventsCacheEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, wrapped with Basic Auth when
// credentials are configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		s.log.Info().Msg("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.basicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.basicAuth.Username != "" && s.basicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.basicAuth.Username
	password := s.basicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays unauthenticated for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="crmcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleEvents)

	s.mux.HandleFunc("GET /api/masters", s.handleListMasters)
	s.mux.HandleFunc("POST /api/masters", s.handleCreateMaster)
	s.mux.HandleFunc("PUT /api/masters/{id}", s.handleUpdateMaster)
	s.mux.HandleFunc("DELETE /api/masters/{id}", s.handleDeleteMaster)
	s.mux.HandleFunc("PUT /api/masters/{id}/time", s.handleUpdateMasterTime)
	s.mux.HandleFunc("DELETE /api/masters/{id}/occurrences/{date}", s.handleExcludeOccurrence)

	s.mux.HandleFunc("GET /api/export.ics", s.handleExportICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Mode        string          `json:"mode"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

// occurrenceDTO is a JSON-friendly view of an expanded occurrence.
type occurrenceDTO struct {
	Key       string    `json:"key"`
	MasterID  string    `json:"master_id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Color     string    `json:"color"`
	AllDay    bool      `json:"all_day"`
	Recurring bool      `json:"recurring"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// handleEvents returns the occurrences for a calendar view.
//
// GET /api/events?view=week&date=2026-02-15
//   - view: day | week | month | agenda (defaults to the current mode)
//   - date: reference date inside the desired window (defaults to the
//     current reference)
//
// The request also repositions the view controller, so subsequent reminder
// rescheduling follows the window the user is looking at.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	viewParam := q.Get("view")
	dateParam := q.Get("date")

	if viewParam != "" {
		mode := view.Mode(viewParam)
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, "unknown view mode "+strconv.Quote(viewParam))
			return
		}
		s.controller.SetMode(mode)
	}
	if dateParam != "" {
		ref, err := time.ParseInLocation(dateParamLayout, dateParam, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date "+strconv.Quote(dateParam))
			return
		}
		s.controller.Today(ref)
	}

	cacheKey := string(s.controller.Mode()) + "|" + dateParam

	s.eventsMu.Lock()
	if entry, ok := s.eventsCache[cacheKey]; ok && time.Since(entry.updatedAt) < eventsCacheTTL {
		s.eventsMu.Unlock()
		writeJSON(w, http.StatusOK, entry.resp)
		return
	}
	s.eventsMu.Unlock()

	win := s.controller.Window()
	occs := s.controller.Occurrences()

	dtos := make([]occurrenceDTO, 0, len(occs))
	for _, occ := range occs {
		dtos = append(dtos, occurrenceDTO{
			Key:       occ.Key,
			MasterID:  occ.MasterID,
			Title:     occ.Title,
			Type:      string(occ.Type),
			Color:     occ.Type.Color(),
			AllDay:    occ.AllDay,
			Recurring: occ.Master != nil && occ.Master.Recurring,
			Start:     occ.Start,
			End:       occ.End,
		})
	}

	resp := eventsResponse{
		Mode:        string(s.controller.Mode()),
		WindowStart: win.Start,
		WindowEnd:   win.End,
		Occurrences: dtos,
	}

	s.eventsMu.Lock()
	s.eventsCache[cacheKey] = eventsCacheEntry{resp: resp, updatedAt: time.Now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) invalidateEventsCache() {
	s.eventsMu.Lock()
	clear(s.eventsCache)
	s.eventsMu.Unlock()
}

// recurrenceForm mirrors the recurrence section of the event form.
type recurrenceForm struct {
	Enabled     bool     `json:"enabled"`
	Frequency   string   `json:"frequency"`
	Interval    int      `json:"interval"`
	Weekdays    []string `json:"weekdays"`
	Termination string   `json:"termination"`
	EndDate     string   `json:"end_date"`
	Count       int      `json:"count"`
}

// masterRequest is the JSON request body for creating or updating a master.
type masterRequest struct {
	Title           string          `json:"title"`
	Type            string          `json:"type"`
	Start           time.Time       `json:"start"`
	End             *time.Time      `json:"end,omitempty"`
	AllDay          bool            `json:"all_day"`
	Location        string          `json:"location"`
	Attendees       string          `json:"attendees"`
	Notes           string          `json:"notes"`
	ContactID       string          `json:"contact_id"`
	DealID          string          `json:"deal_id"`
	ReminderMinutes *int            `json:"reminder_minutes,omitempty"`
	Recurrence      *recurrenceForm `json:"recurrence,omitempty"`
}

// masterDTO is the JSON representation of a stored master event.
type masterDTO struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Type            string     `json:"type"`
	Color           string     `json:"color"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	AllDay          bool       `json:"all_day"`
	Recurring       bool       `json:"recurring"`
	Rule            string     `json:"rule,omitempty"`
	ExcludedDates   []string   `json:"excluded_dates,omitempty"`
	RecurrenceEnd   *time.Time `json:"recurrence_end,omitempty"`
	ReminderMinutes *int       `json:"reminder_minutes,omitempty"`
	Location        string     `json:"location,omitempty"`
	Attendees       string     `json:"attendees,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	ContactID       string     `json:"contact_id,omitempty"`
	DealID          string     `json:"deal_id,omitempty"`
}

func masterToDTO(m model.MasterEvent) masterDTO {
	dto := masterDTO{
		ID:              m.ID,
		Title:           m.Title,
		Type:            string(m.Type),
		Color:           m.Type.Color(),
		Start:           m.Start,
		End:             m.End,
		AllDay:          m.AllDay,
		Recurring:       m.Recurring,
		Rule:            m.RawRule,
		RecurrenceEnd:   m.RecurrenceEnd,
		ReminderMinutes: m.ReminderMinutes,
		Location:        m.Location,
		Attendees:       m.Attendees,
		Notes:           m.Notes,
		ContactID:       m.ContactID,
		DealID:          m.DealID,
	}
	for _, ex := range m.ExcludedDates {
		dto.ExcludedDates = append(dto.ExcludedDates, ex.Format(dateParamLayout))
	}
	return dto
}

// buildMaster validates a request body and assembles a MasterEvent.
// The end time runs through the duration policy: a request without an
// explicit end gets the type's default duration and keeps tracking type and
// start changes; an explicit end is authoritative.
func (s *Server) buildMaster(req masterRequest) (model.MasterEvent, error) {
	if strings.TrimSpace(req.Title) == "" {
		return model.MasterEvent{}, errors.New("title is required")
	}
	typ := model.EventType(req.Type)
	if !typ.Valid() {
		return model.MasterEvent{}, errors.New("unknown event type " + strconv.Quote(req.Type))
	}
	if req.Start.IsZero() {
		return model.MasterEvent{}, errors.New("start is required")
	}

	start := req.Start.In(s.loc)

	var policy *session.DurationPolicy
	if req.End == nil {
		policy = session.NewFromClick(typ, start)
	} else {
		end := req.End.In(s.loc)
		if end.Before(start) {
			return model.MasterEvent{}, errors.New("end precedes start")
		}
		policy = session.NewFromDragSelect(typ, start, end)
	}

	m := model.MasterEvent{
		Title:           strings.TrimSpace(req.Title),
		Type:            typ,
		Start:           policy.Start(),
		End:             policy.End(),
		AllDay:          req.AllDay,
		ReminderMinutes: req.ReminderMinutes,
		Location:        req.Location,
		Attendees:       req.Attendees,
		Notes:           req.Notes,
		ContactID:       req.ContactID,
		DealID:          req.DealID,
	}

	if req.Recurrence != nil && req.Recurrence.Enabled {
		fc := recur.FormConfig{
			Enabled:     true,
			Frequency:   req.Recurrence.Frequency,
			Interval:    req.Recurrence.Interval,
			Weekdays:    req.Recurrence.Weekdays,
			Termination: req.Recurrence.Termination,
			Count:       req.Recurrence.Count,
			Start:       m.Start,
		}
		if req.Recurrence.EndDate != "" {
			endDate, err := time.ParseInLocation(dateParamLayout, req.Recurrence.EndDate, s.loc)
			if err != nil {
				return model.MasterEvent{}, errors.New("invalid recurrence end_date " + strconv.Quote(req.Recurrence.EndDate))
			}
			fc.EndDate = endDate
		}

		rule := recur.Build(fc)
		if rule == nil {
			return model.MasterEvent{}, errors.New("invalid recurrence configuration")
		}
		m.Recurring = true
		m.RawRule = rule.Encode()
		m.RecurrenceEnd = rule.SeriesEnd()
	}

	return m, nil
}

func (s *Server) handleListMasters(w http.ResponseWriter, r *http.Request) {
	masters, err := s.store.ListMasters(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list masters failed")
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	dtos := make([]masterDTO, 0, len(masters))
	for _, m := range masters {
		dtos = append(dtos, masterToDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleCreateMaster(w http.ResponseWriter, r *http.Request) {
	var req masterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := s.buildMaster(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.CreateMaster(r.Context(), m)
	if err != nil {
		s.log.Error().Err(err).Msg("create master failed")
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}
	m.ID = id
	s.invalidateEventsCache()

	s.log.Info().Str("id", id).Str("title", m.Title).Bool("recurring", m.Recurring).Msg("master created")
	writeJSON(w, http.StatusCreated, masterToDTO(m))
}

func (s *Server) handleUpdateMaster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req masterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := s.buildMaster(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.ID = id

	// Excluded dates survive a full edit: the form does not carry them.
	if prev, ok := s.findMaster(r, id); ok {
		m.ExcludedDates = prev.ExcludedDates
	}

	if err := s.store.UpdateMaster(r.Context(), m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.log.Error().Err(err).Str("id", id).Msg("update master failed")
		writeError(w, http.StatusInternalServerError, "failed to update event")
		return
	}
	s.invalidateEventsCache()

	writeJSON(w, http.StatusOK, masterToDTO(m))
}

func (s *Server) handleDeleteMaster(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.store.DeleteMaster(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.log.Error().Err(err).Str("id", id).Msg("delete master failed")
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	s.invalidateEventsCache()

	w.WriteHeader(http.StatusNoContent)
}

// timeUpdateRequest is the JSON body for drag/move and resize edits.
type timeUpdateRequest struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
}

func (s *Server) handleUpdateMasterTime(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req timeUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		writeError(w, http.StatusBadRequest, "invalid time range")
		return
	}

	err := s.controller.MoveResize(r.Context(), id, req.Start.In(s.loc), req.End.In(s.loc), req.AllDay)
	switch {
	case err == nil:
		s.invalidateEventsCache()
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, view.ErrRecurringTimeEdit):
		writeError(w, http.StatusConflict, "recurring events cannot be moved or resized; edit the series instead")
	default:
		s.log.Error().Err(err).Str("id", id).Msg("time update failed")
		writeError(w, http.StatusInternalServerError, "failed to update event time")
	}
}

// handleExcludeOccurrence removes a single occurrence from a recurring
// series by recording its date as excluded.
//
// DELETE /api/masters/{id}/occurrences/{date}
func (s *Server) handleExcludeOccurrence(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dateParam := r.PathValue("date")

	day, err := time.ParseInLocation(dateParamLayout, dateParam, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date "+strconv.Quote(dateParam))
		return
	}

	m, ok := s.findMaster(r, id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if !m.Recurring {
		writeError(w, http.StatusConflict, "only recurring events have individual occurrences; delete the event instead")
		return
	}

	for _, ex := range m.ExcludedDates {
		if ex.Year() == day.Year() && ex.YearDay() == day.YearDay() {
			// Already excluded; treat as success.
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	m.ExcludedDates = append(m.ExcludedDates, day)

	if err := s.store.UpdateMaster(r.Context(), m); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.log.Error().Err(err).Str("id", id).Msg("exclude occurrence failed")
		writeError(w, http.StatusInternalServerError, "failed to exclude occurrence")
		return
	}
	s.invalidateEventsCache()

	s.log.Info().Str("id", id).Str("date", dateParam).Msg("occurrence excluded")
	w.WriteHeader(http.StatusNoContent)
}

// handleExportICS serializes all masters as an iCalendar feed.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	masters, err := s.store.ListMasters(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}

	payload := ics.Export(masters, time.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="crmcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

func (s *Server) findMaster(r *http.Request, id string) (model.MasterEvent, bool) {
	masters, err := s.store.ListMasters(r.Context())
	if err != nil {
		return model.MasterEvent{}, false
	}
	for _, m := range masters {
		if m.ID == id {
			return m, true
		}
	}
	return model.MasterEvent{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// Headers are already out by this point, so an encode error has nowhere
	// to go.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
