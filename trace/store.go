// Package trace records harness events (bridge messages, isolate phase
// changes, presented frames) in SQLite so runs can be inspected afterwards.
package trace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"

	"github.com/Swind/embedder-harness/core"
)

// Kind classifies an event.
type Kind string

const (
	KindMessage Kind = "message"
	KindPhase   Kind = "phase"
	KindFrame   Kind = "frame"
)

// Event is one recorded occurrence.
type Event struct {
	ID      int64
	Kind    Kind
	Source  string
	Subject string
	Detail  string
	At      time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		kind    TEXT    NOT NULL,
		source  TEXT    NOT NULL,
		subject TEXT    NOT NULL,
		detail  TEXT    NOT NULL,
		at_ns   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_kind ON events(kind, id)`,
}

// Store is an append-only event log.
type Store struct {
	db     *sql.DB
	logger core.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening trace database %q: %w", path, err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return newStore(db)
}

// OpenMemory opens a private in-memory store.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory trace database: %w", err)
	}
	// every connection would get its own empty database
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating trace schema: %w", err)
		}
	}
	return &Store{db: db, logger: core.NewNoOpLogger(), now: time.Now}, nil
}

// WithLogger sets the logger observers report write failures to.
func (s *Store) WithLogger(l core.Logger) *Store {
	if l != nil {
		s.logger = l
	}
	return s
}

// Record appends e. A zero At is stamped with the current time.
func (s *Store) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sql.ErrConnDone
	}
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.Exec(
		"INSERT INTO events (kind, source, subject, detail, at_ns) VALUES (?, ?, ?, ?, ?)",
		string(e.Kind), e.Source, e.Subject, e.Detail, e.At.UnixNano())
	if err != nil {
		return fmt.Errorf("recording %s event: %w", e.Kind, err)
	}
	return nil
}

// Events returns events of kind in insertion order. An empty kind returns
// every event.
func (s *Store) Events(ctx context.Context, kind Kind) ([]Event, error) {
	query := "SELECT id, kind, source, subject, detail, at_ns FROM events"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var k string
		var at int64
		if err := rows.Scan(&e.ID, &k, &e.Source, &e.Subject, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = Kind(k)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. Later Records fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) record(e Event) {
	if err := s.Record(e); err != nil {
		s.logger.Warn("trace record failed", core.F("kind", e.Kind), core.F("error", err))
	}
}
