package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Errors surfaced by store operations. Callers branch on these with
// errors.Is rather than inspecting SQL error text.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateCycle    = errors.New("cycle already exists for date")
	ErrInvalidTransition = errors.New("invalid cycle transition")
	ErrAlreadyResolved   = errors.New("review request already resolved")
	ErrReviewPending     = errors.New("a review request is already waiting for this cycle")
)

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Single writer; the poll loop is the only mutator.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		date TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		status TEXT NOT NULL,
		chosen_candidate INTEGER,
		outcome TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS candidates (
		cycle_date TEXT NOT NULL REFERENCES cycles(date) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		topic TEXT NOT NULL,
		angle TEXT,
		content TEXT NOT NULL,
		quality_score REAL,
		uniqueness_score REAL,
		word_count INTEGER,
		source_refs TEXT,
		PRIMARY KEY (cycle_date, position)
	);

	CREATE TABLE IF NOT EXISTS review_requests (
		id TEXT PRIMARY KEY,
		cycle_date TEXT NOT NULL,
		recipient TEXT NOT NULL,
		sent_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		instruction TEXT,
		resolved_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS processed_messages (
		message_id TEXT PRIMARY KEY,
		cycle_date TEXT,
		processed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_date TEXT NOT NULL,
		candidate INTEGER,
		stage TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_waiting_review
		ON review_requests(cycle_date) WHERE status = 'waiting_reply';
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON review_requests(status);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_messages(processed_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_cycle ON feedback(cycle_date);
	`

	_, err := s.db.Exec(schema)
	return err
}
