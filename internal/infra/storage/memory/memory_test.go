package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/storage"
)

func TestRunRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepo()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		s := &domain.Summary{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), TotalJobs: i + 1}
		if err := repo.SaveRun(ctx, s); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	runs, err := repo.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != "new" {
		t.Errorf("ListRuns(1) = %+v", runs)
	}

	if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("GetRun(missing) err = %v", err)
	}

	_ = repo.SaveResults(ctx, "new", []domain.Result{
		{JobID: "1", Status: domain.JobStatusSucceeded},
		{JobID: "2", Status: domain.JobStatusFailed},
		{JobID: "3", Status: domain.JobStatusSkipped},
	})

	all, _ := repo.ListResults(ctx, "new")
	if len(all) != 3 {
		t.Errorf("all results = %d, want 3", len(all))
	}
	bad, _ := repo.ListResults(ctx, "new", domain.JobStatusFailed, domain.JobStatusSkipped)
	if len(bad) != 2 || bad[0].JobID != "2" {
		t.Errorf("filtered results = %+v", bad)
	}
}
