package store

import (
	"context"
	"database/sql"
	"time"

	"restartwatch/internal/notify"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Store persists the restart log and notification history of one container.
type Store struct {
	db        *sql.DB
	container string
}

func New(db *sql.DB, container string) *Store {
	return &Store{db: db, container: container}
}

func (s *Store) AppendRestart(ctx context.Context, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO restarts (container_name, ts_ms) VALUES (?, ?)`, s.container, ts.UnixMilli())
	return err
}

func (s *Store) ListRestarts(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts_ms FROM restarts WHERE container_name = ? AND ts_ms >= ? ORDER BY ts_ms ASC, id ASC`, s.container, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, rows.Err()
}

func (s *Store) PruneRestarts(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM restarts WHERE container_name = ? AND ts_ms < ?`, s.container, before.UnixMilli())
	return err
}

func (s *Store) AddEvent(ctx context.Context, e Event) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO events (container_name, status, message, url, hostname, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		s.container,
		e.Status,
		e.Message,
		e.URL,
		e.Hostname,
		e.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Notify records a delivered notification, making the store a sink.
func (s *Store) Notify(ctx context.Context, e notify.Event) error {
	_, err := s.AddEvent(ctx, Event{
		Status:    string(e.Status),
		Message:   e.Message,
		URL:       e.URL,
		Hostname:  e.Hostname,
		Timestamp: e.Timestamp,
	})
	return err
}

// ListEvents returns events newest first. beforeID <= 0 starts at the newest.
func (s *Store) ListEvents(ctx context.Context, beforeID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var rows *sql.Rows
	var err error
	if beforeID > 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT id, container_name, status, message, url, hostname, ts FROM events WHERE container_name = ? AND id < ? ORDER BY id DESC LIMIT ?`, s.container, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, container_name, status, message, url, hostname, ts FROM events WHERE container_name = ? ORDER BY id DESC LIMIT ?`, s.container, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Event, 0, limit)
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &e.Container, &e.Status, &e.Message, &e.URL, &e.Hostname, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE container_name = ?`, s.container).Scan(&n)
	return n, err
}

func parseTime(val string) time.Time {
	if val == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
