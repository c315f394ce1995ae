package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, session Session) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO sessions (id, path, format, mode, started_us, stopped_us, packets, events, min_id, max_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			format = excluded.format,
			mode = excluded.mode,
			started_us = excluded.started_us,
			stopped_us = excluded.stopped_us,
			packets = excluded.packets,
			events = excluded.events,
			min_id = excluded.min_id,
			max_id = excluded.max_id
	`, session.ID, session.Path, session.Format, session.Mode,
		toMicros(session.Started), toMicros(session.Stopped),
		session.Packets, session.Events, session.MinID, session.MaxID)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Session{}, false, err
	}

	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return session, true, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_us, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

const sessionColumns = `id, path, format, mode, started_us, stopped_us, packets, events, min_id, max_id`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var session Session
	var started, stopped int64
	err := row.Scan(&session.ID, &session.Path, &session.Format, &session.Mode,
		&started, &stopped, &session.Packets, &session.Events, &session.MinID, &session.MaxID)
	if err != nil {
		return Session{}, err
	}
	session.Started = fromMicros(started)
	session.Stopped = fromMicros(stopped)
	return session, nil
}

// Times are stored as microseconds since the epoch, 0 for none.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			format TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_us INTEGER NOT NULL,
			stopped_us INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			events INTEGER NOT NULL,
			min_id INTEGER NOT NULL,
			max_id INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_started ON sessions (started_us);
	`)
	return err
}
