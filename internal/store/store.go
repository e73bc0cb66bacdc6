// Package store persists plan run summaries in Postgres. Generated plans are
// never written; only what is needed to diagnose runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

const insertRun = `
INSERT INTO plan_runs (run_id, subject, outcome, error, plan_count, fragments, duration_ms, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (run_id) DO NOTHING;
`

// RecordRun stores one finished run. Recording the same run twice is a no-op.
func (s *Store) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	duration := rec.FinishedAt.Sub(rec.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	_, err := s.DB.ExecContext(ctx, insertRun,
		rec.ID, rec.Subject, string(rec.Outcome), rec.Error,
		rec.PlanCount, rec.Fragments, duration,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert plan run: %w", err)
	}
	return nil
}

const selectRecentRuns = `
SELECT run_id, subject, outcome, error, plan_count, fragments, started_at, finished_at
FROM plan_runs
WHERE subject = $1
ORDER BY started_at DESC
LIMIT $2;
`

// RecentRuns lists the subject's latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, subject string, limit int) ([]pipeline.RunRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, selectRecentRuns, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("query plan runs: %w", err)
	}
	defer rows.Close()

	out := []pipeline.RunRecord{}
	for rows.Next() {
		var (
			rec     pipeline.RunRecord
			outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.Subject, &outcome, &rec.Error, &rec.PlanCount, &rec.Fragments, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		rec.Outcome = pipeline.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping reports whether the database is reachable within timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.DB.PingContext(ctx)
}
