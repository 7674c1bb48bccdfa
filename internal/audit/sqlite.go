package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink persists audit events to a SQLite table so the trail
// survives restarts and stays queryable.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens (or creates) the audit database and runs the
// migration.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[audit] sqlite sink opened: %s", dbPath)
	return s, nil
}

// NewSQLiteSinkFromDB wraps an already-open database (shared with the
// main relational store).
func NewSQLiteSinkFromDB(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			at         INTEGER NOT NULL,
			actor_id   INTEGER NOT NULL,
			actor_name TEXT,
			role_id    INTEGER NOT NULL,
			role_name  TEXT,
			action     TEXT NOT NULL,
			codenames  TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at);
		CREATE INDEX IF NOT EXISTS idx_audit_role ON audit_log(role_id);
	`)
	return err
}

// Record inserts one audit row.
func (s *SQLiteSink) Record(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (at, actor_id, actor_name, role_id, role_name, action, codenames)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.Unix(), evt.ActorID, evt.ActorName, evt.RoleID, evt.RoleName,
		evt.Action, strings.Join(evt.Codenames, ","),
	)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
