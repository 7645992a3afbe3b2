package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// tsFormat is fixed-width so timestamps sort lexically.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes read-modify-write profile transactions.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// DB exposes the handle so the vector index can share the database file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id                  TEXT PRIMARY KEY,
		external_id         TEXT,
		name                TEXT,
		email               TEXT,
		preferences         TEXT NOT NULL DEFAULT '{}',
		extracted_intents   TEXT NOT NULL DEFAULT '[]',
		tags                TEXT NOT NULL DEFAULT '[]',
		summary             TEXT,
		summary_version     INTEGER NOT NULL DEFAULT 0,
		last_summary_update TEXT,
		update_trigger      TEXT,
		total_sessions      INTEGER NOT NULL DEFAULT 0,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_external ON customers(external_id) WHERE external_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS preference_history (
		id                TEXT PRIMARY KEY,
		customer_id       TEXT NOT NULL REFERENCES customers(id),
		preference_key    TEXT NOT NULL,
		preference_value  TEXT NOT NULL,
		source_session_id TEXT,
		confidence        REAL NOT NULL,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pref_history_customer ON preference_history(customer_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		customer_id     TEXT NOT NULL REFERENCES customers(id),
		status          TEXT NOT NULL DEFAULT 'active',
		detected_intent TEXT,
		started_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_customer ON sessions(customer_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		session_id  TEXT,
		sender_type TEXT NOT NULL,
		content     TEXT NOT NULL,
		intent      TEXT,
		sent_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_customer ON messages(customer_id, sent_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, sent_at DESC);

	CREATE TABLE IF NOT EXISTS insights (
		id          TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		session_id  TEXT,
		message_id  TEXT,
		payload     TEXT NOT NULL,
		fallback    INTEGER NOT NULL DEFAULT 0,
		reason      TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_customer ON insights(customer_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
