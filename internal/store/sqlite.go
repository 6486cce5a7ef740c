package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"crmcal/internal/model"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLiteConfig holds the options for opening the SQLite-backed store.
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
}

// SQLite is the durable Store implementation. Change notifications are
// fanned out to subscribers after every committed write with a fresh
// snapshot of the master set.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger

	mu     sync.Mutex
	subSeq int
	subs   map[int]subscriber
}

type subscriber struct {
	onChange func([]model.MasterEvent)
	onError  func(error)
}

// OpenSQLite opens (creating if necessary) the database at cfg.Path and runs
// migrations.
func OpenSQLite(cfg SQLiteConfig, log zerolog.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db, log: log, subs: map[int]subscriber{}}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const masterColumns = `id, title, type, start, end_time, all_day, recurring, raw_rule,
	excluded_dates, recurrence_end, reminder_minutes, location, attendees, notes,
	contact_id, deal_id`

func (s *SQLite) CreateMaster(ctx context.Context, m model.MasterEvent) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	excluded, err := encodeExcluded(m.ExcludedDates)
	if err != nil {
		return "", fmt.Errorf("encode excluded dates: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO masters(`+masterColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Title, string(m.Type),
		m.Start.Format(time.RFC3339Nano), m.End.Format(time.RFC3339Nano),
		boolInt(m.AllDay), boolInt(m.Recurring), m.RawRule,
		excluded, nullTime(m.RecurrenceEnd), nullInt(m.ReminderMinutes),
		m.Location, m.Attendees, m.Notes, m.ContactID, m.DealID,
	)
	if err != nil {
		return "", fmt.Errorf("insert master: %w", err)
	}
	s.publish(ctx)
	return m.ID, nil
}

func (s *SQLite) UpdateMaster(ctx context.Context, m model.MasterEvent) error {
	excluded, err := encodeExcluded(m.ExcludedDates)
	if err != nil {
		return fmt.Errorf("encode excluded dates: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE masters SET title=?, type=?, start=?, end_time=?, all_day=?,
		 recurring=?, raw_rule=?, excluded_dates=?, recurrence_end=?,
		 reminder_minutes=?, location=?, attendees=?, notes=?, contact_id=?,
		 deal_id=? WHERE id=?`,
		m.Title, string(m.Type),
		m.Start.Format(time.RFC3339Nano), m.End.Format(time.RFC3339Nano),
		boolInt(m.AllDay), boolInt(m.Recurring), m.RawRule,
		excluded, nullTime(m.RecurrenceEnd), nullInt(m.ReminderMinutes),
		m.Location, m.Attendees, m.Notes, m.ContactID, m.DealID, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update master: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.publish(ctx)
	return nil
}

func (s *SQLite) UpdateMasterTime(ctx context.Context, id string, start, end time.Time, allDay bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE masters SET start=?, end_time=?, all_day=? WHERE id=?`,
		start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano), boolInt(allDay), id,
	)
	if err != nil {
		return fmt.Errorf("update master time: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.publish(ctx)
	return nil
}

func (s *SQLite) DeleteMaster(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM masters WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete master: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.publish(ctx)
	return nil
}

func (s *SQLite) ListMasters(ctx context.Context) ([]model.MasterEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+masterColumns+` FROM masters ORDER BY start, id`)
	if err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	defer rows.Close()

	out := make([]model.MasterEvent, 0)
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list masters rows: %w", err)
	}
	return out, nil
}

func (s *SQLite) Subscribe(onChange func([]model.MasterEvent), onError func(error)) func() {
	s.mu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = subscriber{onChange: onChange, onError: onError}
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

// publish reloads the master set and hands it to every subscriber. A reload
// failure goes to the error callbacks; subscribers keep their previous view.
func (s *SQLite) publish(ctx context.Context) {
	s.mu.Lock()
	subs := make([]subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	masters, err := s.ListMasters(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("store: snapshot reload for subscribers failed")
		for _, sub := range subs {
			if sub.onError != nil {
				sub.onError(err)
			}
		}
		return
	}
	for _, sub := range subs {
		if sub.onChange != nil {
			sub.onChange(masters)
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaster(row rowScanner) (model.MasterEvent, error) {
	var (
		m                 model.MasterEvent
		typ               string
		startRaw, endRaw  string
		allDay, recurring int
		excludedRaw       string
		recurrenceEnd     sql.NullString
		reminderMinutes   sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.Title, &typ, &startRaw, &endRaw, &allDay,
		&recurring, &m.RawRule, &excludedRaw, &recurrenceEnd, &reminderMinutes,
		&m.Location, &m.Attendees, &m.Notes, &m.ContactID, &m.DealID); err != nil {
		return m, fmt.Errorf("scan master: %w", err)
	}

	m.Type = model.EventType(typ)
	m.AllDay = allDay != 0
	m.Recurring = recurring != 0

	var err error
	if m.Start, err = time.Parse(time.RFC3339Nano, startRaw); err != nil {
		return m, fmt.Errorf("parse start %q: %w", startRaw, err)
	}
	if m.End, err = time.Parse(time.RFC3339Nano, endRaw); err != nil {
		return m, fmt.Errorf("parse end %q: %w", endRaw, err)
	}
	if m.ExcludedDates, err = decodeExcluded(excludedRaw); err != nil {
		return m, fmt.Errorf("decode excluded dates: %w", err)
	}
	if recurrenceEnd.Valid {
		t, err := time.Parse(time.RFC3339Nano, recurrenceEnd.String)
		if err != nil {
			return m, fmt.Errorf("parse recurrence end %q: %w", recurrenceEnd.String, err)
		}
		m.RecurrenceEnd = &t
	}
	if reminderMinutes.Valid {
		n := int(reminderMinutes.Int64)
		m.ReminderMinutes = &n
	}
	return m, nil
}

// encodeExcluded stores exclusion dates as a JSON array of yyyy-mm-dd
// strings; the time of day is deliberately dropped since matching is
// date-only anyway.
func encodeExcluded(dates []time.Time) (string, error) {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.Format("2006-01-02"))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeExcluded(raw string) ([]time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(ss))
	for _, s := range ss {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
