// Package eventstore keeps a durable journal of interview session lifecycle
// events in SQLite. Sessions themselves live in memory; the journal outlives
// them for auditing and debugging.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/recon/internal/config"
	"github.com/loqalabs/recon/internal/protocol"
)

// Retention modes.
const (
	// RetentionEphemeral disables the journal.
	RetentionEphemeral = "ephemeral"
	// RetentionSession drops a session's events once the session expires.
	RetentionSession = "session"
	// RetentionPersistent keeps events until retention_days or max_sessions.
	RetentionPersistent = "persistent"
)

// Event represents a recorded timeline entry.
type Event struct {
	ID            int64
	SessionID     string
	Type          string
	Status        string
	QuestionIndex *int
	Detail        string
	CreatedAt     time.Time
}

// Store wraps a SQLite-backed session journal.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    expired_at INTEGER
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    status TEXT,
    question_index INTEGER,
    detail TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_session_created ON events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == RetentionEphemeral || s.db == nil
}

// Record appends ev to the journal, creating the session row on first sight
// and stamping expiry on session.expired.
func (s *Store) Record(ctx context.Context, ev protocol.SessionEvent) (err error) {
	if s.disabled() {
		return nil
	}
	if ev.SessionID == "" {
		return errors.New("event has no session id")
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = s.clock()
	}
	nanos := at.UTC().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(session_id, created_at) VALUES(?, ?) ON CONFLICT(session_id) DO NOTHING`,
		ev.SessionID, nanos); err != nil {
		return err
	}
	if ev.Type == protocol.EventSessionExpired {
		if _, err = tx.ExecContext(ctx, `UPDATE sessions SET expired_at = ? WHERE session_id = ?`, nanos, ev.SessionID); err != nil {
			return err
		}
	}
	var index sql.NullInt64
	if ev.QuestionIndex != nil {
		index = sql.NullInt64{Int64: int64(*ev.QuestionIndex), Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO events(session_id, event_type, status, question_index, detail, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		ev.SessionID, string(ev.Type), ev.Status, index, ev.Detail, nanos); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// PublishEvent lets the store stand in for the bus when it is disabled.
func (s *Store) PublishEvent(ctx context.Context, ev protocol.SessionEvent) error {
	return s.Record(ctx, ev)
}

// ListSessionEvents retrieves up to limit events for a session ordered ascending by time.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, status, question_index, detail, created_at
		 FROM events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var status, detail sql.NullString
		var index sql.NullInt64
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &status, &index, &detail, &created); err != nil {
			return nil, err
		}
		e.Status = status.String
		e.Detail = detail.String
		if index.Valid {
			i := int(index.Int64)
			e.QuestionIndex = &i
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and by the sweeper).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionMode == RetentionSession {
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE expired_at IS NOT NULL`); err != nil {
			return err
		}
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == RetentionEphemeral && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
