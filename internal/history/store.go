// Package history persists build records to SQLite so past build outcomes
// can be inspected after the process exits.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one completed build for one repository.
type Record struct {
	ID         int64
	BuildID    string
	Repository string
	StartedAt  time.Time
	FinishedAt time.Time
	UnitsTotal int
	UnitsBuilt int
	Succeeded  bool
	Summary    map[string]string
}

// Store persists build records.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (and initializes if needed) a store at dbPath.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		repository TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		units_total INTEGER NOT NULL,
		units_built INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		summary TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_build_id ON builds(build_id);
	CREATE INDEX IF NOT EXISTS idx_builds_repository ON builds(repository);
	CREATE INDEX IF NOT EXISTS idx_builds_started_at ON builds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records a completed build.
func (s *Store) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaryJSON []byte
	if r.Summary != nil {
		var err error
		summaryJSON, err = json.Marshal(r.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
	}

	succeeded := 0
	if r.Succeeded {
		succeeded = 1
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO builds (build_id, repository, started_at, finished_at, units_total, units_built, succeeded, summary) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.BuildID, r.Repository, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.UnitsTotal, r.UnitsBuilt, succeeded, summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("insert build record: %w", err)
	}
	return nil
}

// Recent returns up to limit build records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, repository, started_at, finished_at, units_total, units_built, succeeded, summary FROM builds ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query build records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ByRepository returns all build records for one repository, newest first.
func (s *Store) ByRepository(ctx context.Context, repository string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, repository, started_at, finished_at, units_total, units_built, succeeded, summary FROM builds WHERE repository = ? ORDER BY id DESC",
		repository,
	)
	if err != nil {
		return nil, fmt.Errorf("query build records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var started, finished int64
		var succeeded int
		var summaryJSON []byte
		if err := rows.Scan(&r.ID, &r.BuildID, &r.Repository, &started, &finished, &r.UnitsTotal, &r.UnitsBuilt, &succeeded, &summaryJSON); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		r.Succeeded = succeeded != 0
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, &r.Summary); err != nil {
				return nil, fmt.Errorf("unmarshal summary: %w", err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
