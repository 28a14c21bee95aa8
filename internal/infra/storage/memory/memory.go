package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/storage"
)

// RunRepo keeps the run ledger in process memory.
type RunRepo struct {
	mu      sync.RWMutex
	runs    map[string]*domain.Summary
	results map[string][]domain.Result
}

var _ storage.RunRepository = (*RunRepo)(nil)

func NewRunRepo() *RunRepo {
	return &RunRepo{
		runs:    make(map[string]*domain.Summary),
		results: make(map[string][]domain.Result),
	}
}

func (r *RunRepo) SaveRun(ctx context.Context, summary *domain.Summary) error {
	if summary == nil || summary.RunID == "" {
		return fmt.Errorf("save run: missing run id")
	}
	cp := *summary
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[summary.RunID] = &cp
	return nil
}

func (r *RunRepo) SaveResults(ctx context.Context, runID string, results []domain.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[runID] = append(r.results[runID], results...)
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, runID)
	}
	cp := *s
	return &cp, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Summary, 0, len(r.runs))
	for _, s := range r.runs {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepo) ListResults(ctx context.Context, runID string, statuses ...domain.JobStatus) ([]domain.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Result
	for _, res := range r.results[runID] {
		if len(statuses) == 0 || slices.Contains(statuses, res.Status) {
			out = append(out, res)
		}
	}
	return out, nil
}
