// Package passlog keeps a local SQLite history of fleet passes and their
// failure ledgers, so operators can inspect recent runs without scraping
// logs.
package passlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Failure is one ledger row of a pass.
type Failure struct {
	GaugeID   string `json:"gauge_id"`
	Partition string `json:"partition"`
	State     string `json:"state"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// Entry is one recorded pass.
type Entry struct {
	RunID            string            `json:"run_id"`
	Mode             string            `json:"mode"`
	Partitions       []string          `json:"partitions"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Attempted        int               `json:"attempted"`
	Succeeded        int               `json:"succeeded"`
	Failed           int               `json:"failed"`
	ArtifactFailures map[string]string `json:"artifact_failures,omitempty"`
	DryRun           bool              `json:"dry_run"`
	ExitCode         int               `json:"exit_code"`
	Failures         []Failure         `json:"failures,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS passes (
	run_id       TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	partitions   TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL,
	attempted    INTEGER NOT NULL,
	succeeded    INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	dry_run      INTEGER NOT NULL,
	exit_code    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS passes_started_at ON passes (started_at);
CREATE TABLE IF NOT EXISTS pass_failures (
	run_id     TEXT NOT NULL REFERENCES passes (run_id) ON DELETE CASCADE,
	gauge_id   TEXT NOT NULL,
	partition  TEXT NOT NULL,
	state      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS artifact_failures (
	run_id  TEXT NOT NULL REFERENCES passes (run_id) ON DELETE CASCADE,
	key     TEXT NOT NULL,
	reason  TEXT NOT NULL
);
`

// Store is a SQLite-backed pass history. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("pass log path cannot be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pass log: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping pass log: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pass log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one pass and its ledger in a single transaction.
func (s *Store) Record(ctx context.Context, e Entry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pass log transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO passes (run_id, mode, partitions, started_at, finished_at,
		                    attempted, succeeded, failed, dry_run, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Mode, strings.Join(e.Partitions, ","),
		e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
		e.Attempted, e.Succeeded, e.Failed, e.DryRun, e.ExitCode,
	)
	if err != nil {
		return fmt.Errorf("insert pass %s: %w", e.RunID, err)
	}

	for _, f := range e.Failures {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pass_failures (run_id, gauge_id, partition, state, kind, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.RunID, f.GaugeID, f.Partition, f.State, f.Kind, f.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert failure %s/%s: %w", e.RunID, f.GaugeID, err)
		}
	}
	for key, reason := range e.ArtifactFailures {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO artifact_failures (run_id, key, reason) VALUES (?, ?, ?)`,
			e.RunID, key, reason,
		)
		if err != nil {
			return fmt.Errorf("insert artifact failure %s/%s: %w", e.RunID, key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit pass %s: %w", e.RunID, err)
	}
	return nil
}

// Recent returns up to limit passes, newest first, without their failure
// rows. An empty mode matches every mode.
func (s *Store) Recent(ctx context.Context, mode string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mode, partitions, started_at, finished_at,
		       attempted, succeeded, failed, dry_run, exit_code
		FROM passes
		WHERE ? = '' OR mode = ?
		ORDER BY started_at DESC
		LIMIT ?`, mode, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var partitions string
		var started, finished int64
		if err := rows.Scan(&e.RunID, &e.Mode, &partitions, &started, &finished,
			&e.Attempted, &e.Succeeded, &e.Failed, &e.DryRun, &e.ExitCode); err != nil {
			return nil, fmt.Errorf("scan pass row: %w", err)
		}
		if partitions != "" {
			e.Partitions = strings.Split(partitions, ",")
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one pass with its failure rows. found is false for an
// unknown run ID.
func (s *Store) Get(ctx context.Context, runID string) (Entry, bool, error) {
	var e Entry
	var partitions string
	var started, finished int64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, mode, partitions, started_at, finished_at,
		       attempted, succeeded, failed, dry_run, exit_code
		FROM passes WHERE run_id = ?`, runID).
		Scan(&e.RunID, &e.Mode, &partitions, &started, &finished,
			&e.Attempted, &e.Succeeded, &e.Failed, &e.DryRun, &e.ExitCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query pass %s: %w", runID, err)
	}
	if partitions != "" {
		e.Partitions = strings.Split(partitions, ",")
	}
	e.StartedAt = time.UnixMilli(started).UTC()
	e.FinishedAt = time.UnixMilli(finished).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT gauge_id, partition, state, kind, reason
		FROM pass_failures WHERE run_id = ? ORDER BY gauge_id`, runID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("query failures of %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.GaugeID, &f.Partition, &f.State, &f.Kind, &f.Reason); err != nil {
			return Entry{}, false, fmt.Errorf("scan failure row: %w", err)
		}
		e.Failures = append(e.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, false, err
	}

	artifacts, err := s.db.QueryContext(ctx,
		`SELECT key, reason FROM artifact_failures WHERE run_id = ?`, runID)
	if err != nil {
		return Entry{}, false, fmt.Errorf("query artifact failures of %s: %w", runID, err)
	}
	defer artifacts.Close()
	for artifacts.Next() {
		var key, reason string
		if err := artifacts.Scan(&key, &reason); err != nil {
			return Entry{}, false, fmt.Errorf("scan artifact failure row: %w", err)
		}
		if e.ArtifactFailures == nil {
			e.ArtifactFailures = make(map[string]string)
		}
		e.ArtifactFailures[key] = reason
	}
	return e, true, artifacts.Err()
}

// Prune deletes passes that started before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	ms := cutoff.UnixMilli()
	for _, q := range []string{
		`DELETE FROM pass_failures WHERE run_id IN (SELECT run_id FROM passes WHERE started_at < ?)`,
		`DELETE FROM artifact_failures WHERE run_id IN (SELECT run_id FROM passes WHERE started_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, q, ms); err != nil {
			return 0, fmt.Errorf("prune failures: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM passes WHERE started_at < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("prune passes: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}
