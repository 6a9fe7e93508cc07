package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/flow"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS flow_runs (
    id          TEXT PRIMARY KEY,
    revision    TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    passed      BOOLEAN NOT NULL,
    failures    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS flow_results (
    run_id      TEXT NOT NULL REFERENCES flow_runs(id) ON DELETE CASCADE,
    browser     TEXT NOT NULL,
    engine      TEXT NOT NULL,
    passed      BOOLEAN NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (run_id, browser)
);
CREATE TABLE IF NOT EXISTS flow_steps (
    run_id      TEXT NOT NULL REFERENCES flow_runs(id) ON DELETE CASCADE,
    browser     TEXT NOT NULL,
    position    INTEGER NOT NULL,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL,
    PRIMARY KEY (run_id, browser, position)
);`

const (
	sqlInsertRun = `
        INSERT INTO flow_runs (id, revision, started_at, finished_at, passed, failures)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlInsertResult = `
        INSERT INTO flow_results (run_id, browser, engine, passed, error, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7);
    `
	sqlInsertStep = `
        INSERT INTO flow_steps (run_id, browser, position, name, status, message, error, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlRecentRuns = `
        SELECT id, revision, started_at, finished_at, passed, failures
        FROM flow_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	sqlRunSteps = `
        SELECT browser, position, name, status, message, error, duration_ms
        FROM flow_steps
        WHERE run_id = $1
        ORDER BY browser ASC, position ASC;
    `
)

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pool for url and wraps it in a Store. The returned func
// closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate creates the history tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveRun stores a run with its per-browser results and steps in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *flow.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit reports ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		run.ID, run.Revision, run.Started.UTC(), run.Finished.UTC(), run.Passed(), run.Failures(),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	for _, res := range run.Results {
		if _, err := tx.Exec(ctx, sqlInsertResult,
			run.ID, res.Browser, res.Engine, res.Passed(), res.Error, res.Started.UTC(), res.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", res.Browser, err)
		}
		for i, step := range res.Steps {
			if _, err := tx.Exec(ctx, sqlInsertStep,
				run.ID, res.Browser, i, step.Name, string(step.Status), step.Message, step.Error, step.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("failed to insert step %s for %s: %w", step.Name, res.Browser, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", run.ID), zap.Int("browsers", len(run.Results)))
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID       string
	Revision string
	Started  time.Time
	Finished time.Time
	Passed   bool
	Failures int
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Revision, &r.Started, &r.Finished, &r.Passed, &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// StepRow is a stored step with the browser it ran in.
type StepRow struct {
	Browser string
	flow.StepResult
}

// RunSteps returns every step of a run ordered by browser and position.
func (s *Store) RunSteps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.pool.Query(ctx, sqlRunSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRow
	for rows.Next() {
		var (
			row        StepRow
			position   int
			status     string
			durationMS int64
		)
		if err := rows.Scan(&row.Browser, &position, &row.Name, &status, &row.Message, &row.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		row.Status = flow.Status(status)
		row.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}
