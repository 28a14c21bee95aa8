package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

var _ storage.RunRepository = (*RunRepo)(nil)

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

type resultRow struct {
	RunID      string `db:"run_id"`
	JobID      string `db:"job_id"`
	OutputKey  string `db:"output_key"`
	Provider   string `db:"provider"`
	Status     string `db:"status"`
	Attempts   int    `db:"attempts"`
	DurationMs int64  `db:"duration_ms"`
	CacheHit   bool   `db:"cache_hit"`
	ErrorKind  string `db:"error_kind"`
	Error      string `db:"error"`
}

func (r resultRow) toDomain() domain.Result {
	return domain.Result{
		JobID:     r.JobID,
		OutputKey: r.OutputKey,
		Provider:  r.Provider,
		Status:    domain.JobStatus(r.Status),
		Attempts:  r.Attempts,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
		CacheHit:  r.CacheHit,
		ErrorKind: domain.ErrorKind(r.ErrorKind),
		Error:     r.Error,
	}
}

// SaveRun saves a run summary to the database.
func (r *RunRepo) SaveRun(ctx context.Context, summary *domain.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO runs (id, started_at, elapsed_ms, total_jobs, succeeded, failed, skipped,
			cancelled, cache_hit_rate, tripped, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			elapsed_ms = EXCLUDED.elapsed_ms,
			total_jobs = EXCLUDED.total_jobs,
			succeeded = EXCLUDED.succeeded,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			cancelled = EXCLUDED.cancelled,
			cache_hit_rate = EXCLUDED.cache_hit_rate,
			tripped = EXCLUDED.tripped,
			summary = EXCLUDED.summary
	`

	tripped := summary.TrippedProviders
	if tripped == nil {
		tripped = []string{}
	}
	_, err = r.db.ExecContext(ctx, query,
		summary.RunID,
		summary.StartedAt,
		summary.Elapsed.Milliseconds(),
		summary.TotalJobs,
		summary.Succeeded,
		summary.Failed,
		summary.Skipped,
		summary.Cancelled,
		summary.CacheHitRate,
		pq.Array(tripped),
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// SaveResults saves the per-job results of a run in one transaction.
func (r *RunRepo) SaveResults(ctx context.Context, runID string, results []domain.Result) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([]resultRow, len(results))
	for i, res := range results {
		rows[i] = resultRow{
			RunID:      runID,
			JobID:      res.JobID,
			OutputKey:  res.OutputKey,
			Provider:   res.Provider,
			Status:     string(res.Status),
			Attempts:   res.Attempts,
			DurationMs: res.DurationMs(),
			CacheHit:   res.CacheHit,
			ErrorKind:  string(res.ErrorKind),
			Error:      res.Error,
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO run_results (run_id, job_id, output_key, provider, status, attempts,
			duration_ms, cache_hit, error_kind, error)
		VALUES (:run_id, :job_id, :output_key, :provider, :status, :attempts,
			:duration_ms, :cache_hit, :error_kind, :error)
		ON CONFLICT (run_id, job_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			duration_ms = EXCLUDED.duration_ms,
			cache_hit = EXCLUDED.cache_hit,
			error_kind = EXCLUDED.error_kind,
			error = EXCLUDED.error
	`

	// Keep each statement well under the postgres bind parameter limit
	const chunk = 500
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, query, rows[start:end]); err != nil {
			return fmt.Errorf("failed to save results: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by id.
func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.Summary, error) {
	var data []byte
	err := r.db.GetContext(ctx, &data, `SELECT summary FROM runs WHERE id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var s domain.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &s, nil
}

// ListRuns retrieves the most recent runs.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	var blobs [][]byte
	err := r.db.SelectContext(ctx, &blobs,
		`SELECT summary FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*domain.Summary, 0, len(blobs))
	for _, data := range blobs {
		var s domain.Summary
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		out = append(out, &s)
	}
	return out, nil
}

// ListResults retrieves the results of a run, optionally filtered by status.
func (r *RunRepo) ListResults(ctx context.Context, runID string, statuses ...domain.JobStatus) ([]domain.Result, error) {
	var filter []string
	for _, s := range statuses {
		filter = append(filter, string(s))
	}

	query := `
		SELECT run_id, job_id, output_key, provider, status, attempts, duration_ms,
			cache_hit, error_kind, error
		FROM run_results
		WHERE run_id = $1 AND ($2::text[] IS NULL OR status = ANY($2::text[]))
		ORDER BY job_id
	`

	var rows []resultRow
	if err := r.db.SelectContext(ctx, &rows, query, runID, pq.Array(filter)); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]domain.Result, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}
