package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dalcyang/oddsarb/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runCols = `id, bookmaker, sport_type, start_time, end_time, status, events_found, odds_extracted, errors_count, metrics, error_details`

// Create inserts a new run record in the running state.
func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	const query = `
		INSERT INTO scraper_logs (` + runCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))`

	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal run metrics: %w", err)
	}
	_, err = s.pool.Exec(ctx, query,
		run.ID, run.Bookmaker, string(run.SportType),
		run.StartedAt, run.EndedAt, string(run.Status),
		run.EventsFound, run.OddsExtracted, run.ErrorsCount,
		metrics, run.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Finalize records the run's terminal state. The update only applies while
// the row is still running; a second finalize returns domain.ErrRunFinalized.
func (s *RunStore) Finalize(ctx context.Context, run domain.Run) error {
	const query = `
		UPDATE scraper_logs
		SET end_time = $2, status = $3,
		    events_found = $4, odds_extracted = $5, errors_count = $6,
		    metrics = $7, error_details = NULLIF($8, '')
		WHERE id = $1 AND status = 'running'`

	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal run metrics: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query,
		run.ID, run.EndedAt, string(run.Status),
		run.EventsFound, run.OddsExtracted, run.ErrorsCount,
		metrics, run.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunFinalized
	}
	return nil
}

// GetByID returns one run record.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	const query = `SELECT ` + runCols + ` FROM scraper_logs WHERE id = $1`

	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRecent returns the most recently started runs.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	const query = `SELECT ` + runCols + ` FROM scraper_logs ORDER BY start_time DESC LIMIT $1`

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: run rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var run domain.Run
	var metrics []byte
	var errorDetail *string
	err := row.Scan(
		&run.ID, &run.Bookmaker, &run.SportType,
		&run.StartedAt, &run.EndedAt, &run.Status,
		&run.EventsFound, &run.OddsExtracted, &run.ErrorsCount,
		&metrics, &errorDetail,
	)
	if err != nil {
		return domain.Run{}, err
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &run.Metrics); err != nil {
			return domain.Run{}, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	if errorDetail != nil {
		run.ErrorDetail = *errorDetail
	}
	return run, nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
