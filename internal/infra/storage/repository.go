package storage

import (
	"context"
	"errors"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RunRepository is the ledger of finished batch runs
type RunRepository interface {
	// SaveRun saves or replaces a run summary
	SaveRun(ctx context.Context, summary *domain.Summary) error

	// SaveResults appends per-job results of a run
	SaveResults(ctx context.Context, runID string, results []domain.Result) error

	// GetRun retrieves one run
	GetRun(ctx context.Context, runID string) (*domain.Summary, error)

	// ListRuns retrieves the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]*domain.Summary, error)

	// ListResults retrieves results of a run, optionally filtered by status
	ListResults(ctx context.Context, runID string, statuses ...domain.JobStatus) ([]domain.Result, error)
}
