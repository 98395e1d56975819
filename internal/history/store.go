// Package history archives parsed logparser.Summary trees from completed
// boot-log ingests. It is deliberately not part of the manager's live
// VM state: socketvmm.Process populates it on Cleanup, and the adapter
// queries it independently of VM lifecycle, so a VM's boot history
// outlives the VM itself.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/vmworker/internal/logparser"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("history: entry not found")

const createSummariesTable = `
CREATE TABLE IF NOT EXISTS log_summaries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	subject       TEXT NOT NULL,
	started_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL,
	total_steps   INTEGER NOT NULL,
	timeline_json TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_summaries_subject ON log_summaries(subject);
`

// Store is a sqlite-backed archive of parsed log summaries.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a sqlite database at path. WAL plus a
// busy_timeout suits the single-writer, many-reader workload here.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: setting busy_timeout: %w", err)
	}
	if _, err := db.Exec(createSummariesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert archives a completed Summary under subject (a VM id or build
// identifier).
func (s *Store) Insert(ctx context.Context, subject string, summary logparser.Summary) (int64, error) {
	timelineJSON, err := json.Marshal(summary.Timeline)
	if err != nil {
		return 0, fmt.Errorf("history: encoding timeline: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO log_summaries (subject, started_at, completed_at, total_steps, timeline_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		subject, summary.StartedAt.Format(time.RFC3339Nano), summary.CompletedAt.Format(time.RFC3339Nano),
		summary.TotalSteps, string(timelineJSON), time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("history: inserting summary: %w", err)
	}
	return res.LastInsertId()
}

// ListBySubject returns every archived summary's total step count for
// subject, most recent first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT total_steps FROM log_summaries WHERE subject = ? ORDER BY id DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("history: querying summaries: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var total int
		if err := rows.Scan(&total); err != nil {
			return nil, fmt.Errorf("history: scanning row: %w", err)
		}
		out = append(out, total)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
