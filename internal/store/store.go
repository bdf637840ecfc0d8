// Package store keeps a local history of sync runs in SQLite: one row
// per run, one row per post decision. The pipeline writes it, the
// history command reads it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Actions a run can take for one post.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionSkip   = "skip"
	ActionError  = "error"
)

// Counts aggregates a run's outcomes.
type Counts struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// Run is one sync invocation.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time // Zero while the run is still going
	URLs     []string
	Counts   Counts
}

// Decision is the verdict for one post within a run.
type Decision struct {
	PostID  string
	Origin  string
	Action  string
	Reason  string
	Decided time.Time
}

// Store represents the SQLite-backed run history.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the history database under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "boorusync.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Decisions arrive from concurrent workers; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started DATETIME,
		finished DATETIME,
		urls TEXT,
		created INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0
	);`

	decisionsTable := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		post_id TEXT,
		origin TEXT,
		action TEXT,
		reason TEXT,
		decided DATETIME,
		FOREIGN KEY (run_id) REFERENCES runs (id)
	);`

	tables := []string{runsTable, decisionsTable}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a sync run and returns it.
func (s *Store) BeginRun(urls []string) (*Run, error) {
	run := &Run{
		ID:      uuid.NewString(),
		Started: time.Now().UTC(),
		URLs:    urls,
	}
	urlsJSON, _ := json.Marshal(urls)

	query := `
	INSERT INTO runs (id, started, urls)
	VALUES (?, ?, ?)`

	if _, err := s.db.Exec(query, run.ID, run.Started, string(urlsJSON)); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run's end time and final counts.
func (s *Store) FinishRun(runID string, counts Counts) error {
	query := `
	UPDATE runs
	SET finished = ?, created = ?, updated = ?, skipped = ?, failed = ?
	WHERE id = ?`

	_, err := s.db.Exec(query,
		time.Now().UTC(),
		counts.Created,
		counts.Updated,
		counts.Skipped,
		counts.Failed,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	return nil
}

// RecordDecision appends one post decision to a run.
func (s *Store) RecordDecision(runID string, decision Decision) error {
	if decision.Decided.IsZero() {
		decision.Decided = time.Now().UTC()
	}

	query := `
	INSERT INTO decisions (run_id, post_id, origin, action, reason, decided)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		runID,
		decision.PostID,
		decision.Origin,
		decision.Action,
		decision.Reason,
		decision.Decided,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT id, started, finished, urls, created, updated, skipped, failed
	FROM runs
	ORDER BY started DESC
	LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		var urlsJSON string

		err := rows.Scan(
			&run.ID,
			&run.Started,
			&finished,
			&urlsJSON,
			&run.Counts.Created,
			&run.Counts.Updated,
			&run.Counts.Skipped,
			&run.Counts.Failed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			run.Finished = finished.Time
		}
		json.Unmarshal([]byte(urlsJSON), &run.URLs)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunDecisions returns a run's decisions in the order they were made.
func (s *Store) RunDecisions(runID string) ([]Decision, error) {
	query := `
	SELECT post_id, origin, action, reason, decided
	FROM decisions
	WHERE run_id = ?
	ORDER BY id`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var decision Decision
		err := rows.Scan(
			&decision.PostID,
			&decision.Origin,
			&decision.Action,
			&decision.Reason,
			&decision.Decided,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, decision)
	}
	return decisions, rows.Err()
}

// Stats represents history statistics
type Stats struct {
	RunCount      int
	DecisionCount int
	Size          int64
	LastUpdated   time.Time
}

// GetStats returns statistics about the history database.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM runs":      &stats.RunCount,
		"SELECT COUNT(*) FROM decisions": &stats.DecisionCount,
	}

	for query, target := range queries {
		err := s.db.QueryRow(query).Scan(target)
		if err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.Size = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// Prune removes runs older than maxAge along with their decisions.
func (s *Store) Prune(maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	_, err := s.db.Exec(`
	DELETE FROM decisions WHERE run_id IN
	(SELECT id FROM runs WHERE started < ?)`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune old decisions: %w", err)
	}

	_, err = s.db.Exec("DELETE FROM runs WHERE started < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune old runs: %w", err)
	}

	// Vacuum to reclaim space
	_, err = s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}
