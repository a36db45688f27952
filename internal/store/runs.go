package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// RunRecord is one finished import run.
type RunRecord struct {
	ID            uuid.UUID `json:"id"`
	Profile       string    `json:"profile"`
	FileName      string    `json:"file_name"`
	Status        string    `json:"status"`
	TotalRows     int       `json:"total_rows"`
	DoneRows      int       `json:"done_rows"`
	ErrorRows     int       `json:"error_rows"`
	DuplicateRows int       `json:"duplicate_rows"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

const insertRun = `
INSERT INTO import_runs (id, profile, file_name, status, total_rows, done_rows, error_rows, duplicate_rows, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (s *Store) SaveRun(ctx context.Context, r RunRecord) error {
	_, err := s.pool.Exec(ctx, insertRun,
		pgtype.UUID{Bytes: r.ID, Valid: true},
		r.Profile, r.FileName, r.Status,
		r.TotalRows, r.DoneRows, r.ErrorRows, r.DuplicateRows,
		r.Error, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

const listRuns = `
SELECT id, profile, file_name, status, total_rows, done_rows, error_rows, duplicate_rows, error, started_at, finished_at
FROM import_runs
ORDER BY started_at DESC
LIMIT $1`

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunRecord, error) {
		var (
			r  RunRecord
			id pgtype.UUID
		)
		err := row.Scan(&id, &r.Profile, &r.FileName, &r.Status,
			&r.TotalRows, &r.DoneRows, &r.ErrorRows, &r.DuplicateRows,
			&r.Error, &r.StartedAt, &r.FinishedAt)
		r.ID = uuid.UUID(id.Bytes)
		return r, err
	})
}
