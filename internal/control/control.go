package control

import (
	"context"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// ProgressPublisher announces job results and run summaries
type ProgressPublisher interface {
	// PublishResult publishes one terminal job result
	PublishResult(runID string, r domain.Result) error

	// PublishSummary publishes the run summary
	PublishSummary(s *domain.Summary) error
}

// FailedJobStore keeps the unsuccessful jobs of a run for resubmission
type FailedJobStore interface {
	// Add stores jobs under a run id
	Add(ctx context.Context, runID string, jobs []domain.Job) error

	// Drain removes and returns the jobs stored for a run
	Drain(ctx context.Context, runID string) ([]domain.Job, error)
}

// BatchLocker prevents two processes from running the same batch at once
type BatchLocker interface {
	AcquireLock(ctx context.Context, batch, owner string, ttl time.Duration) error
	RefreshLock(ctx context.Context, batch string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, batch, owner string) error
}
