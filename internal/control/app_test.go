package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/voicebatch/internal/batch/report"
	"github.com/vietddude/voicebatch/internal/core/config"
	"github.com/vietddude/voicebatch/internal/core/domain"
	redisclient "github.com/vietddude/voicebatch/internal/infra/redis"
	"github.com/vietddude/voicebatch/internal/infra/synth/provider"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Synthesize(_ context.Context, text string, _ domain.VoiceOptions) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if text == "bad" {
		return nil, &provider.Error{Provider: "fake", Code: 400, Message: "invalid input"}
	}
	return []byte("audio:" + text), nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakePublisher struct {
	mu        sync.Mutex
	results   []domain.Result
	summaries []*domain.Summary
}

func (p *fakePublisher) PublishResult(_ string, r domain.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func (p *fakePublisher) PublishSummary(s *domain.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

type fakeFailedStore struct {
	jobs map[string][]domain.Job
}

func (s *fakeFailedStore) Add(_ context.Context, runID string, jobs []domain.Job) error {
	s.jobs[runID] = append(s.jobs[runID], jobs...)
	return nil
}

func (s *fakeFailedStore) Drain(_ context.Context, runID string) ([]domain.Job, error) {
	jobs := s.jobs[runID]
	delete(s.jobs, runID)
	return jobs, nil
}

type fakeLocker struct {
	held     map[string]string
	released []string
}

func (l *fakeLocker) AcquireLock(_ context.Context, batch, owner string, _ time.Duration) error {
	if holder, ok := l.held[batch]; ok {
		return fmt.Errorf("%w: %s (owner %s)", redisclient.ErrLockHeld, batch, holder)
	}
	l.held[batch] = owner
	return nil
}

func (l *fakeLocker) RefreshLock(context.Context, string, time.Duration) error { return nil }

func (l *fakeLocker) ReleaseLock(_ context.Context, batch, owner string) error {
	if l.held[batch] == owner {
		delete(l.held, batch)
		l.released = append(l.released, batch)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func testConfig(t *testing.T, dir string) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
engine:
  max_concurrency: 2
  max_attempts: 2
cache:
  capacity: 16
providers:
  - name: fake
    url: http://unused
output:
  kind: file
  dir: %q
  report_path: %q
`, filepath.Join(dir, "audio"), filepath.Join(dir, "reports", "{run_id}.json"))), ".yaml")
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func job(id, text string) domain.Job {
	return domain.NewJob(id, text, id+".mp3", "fake", domain.VoiceOptions{Voice: "v"})
}

// =============================================================================
// Tests
// =============================================================================

func TestApp_RunBatch(t *testing.T) {
	dir := t.TempDir()
	prov := &fakeProvider{}
	pub := &fakePublisher{}
	failed := &fakeFailedStore{jobs: map[string][]domain.Job{}}
	locker := &fakeLocker{held: map[string]string{}}

	app, err := NewApp(context.Background(), testConfig(t, dir),
		WithProviders(prov),
		WithPublisher(pub),
		WithFailedJobs(failed),
		WithLocker(locker),
	)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	var progress int
	summary, err := app.RunBatch(context.Background(), Batch{
		ID:   "run-1",
		Name: "batch.csv",
		Jobs: []domain.Job{job("a", "hello"), job("b", "bad"), job("c", "world")},
	}, func(domain.Result) { progress++ })
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	if summary.RunID != "run-1" || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if progress != 3 {
		t.Errorf("progress callbacks = %d, want 3", progress)
	}

	// Audio written by the file sink
	data, err := os.ReadFile(filepath.Join(dir, "audio", "a.mp3"))
	if err != nil || string(data) != "audio:hello" {
		t.Errorf("a.mp3 = %q, %v", data, err)
	}

	// Ledger
	stored, err := app.Ledger().GetRun(context.Background(), "run-1")
	if err != nil || stored.Succeeded != 2 {
		t.Errorf("ledger run = %+v, %v", stored, err)
	}
	failedResults, err := app.Ledger().ListResults(context.Background(), "run-1", domain.JobStatusFailed)
	if err != nil || len(failedResults) != 1 || failedResults[0].JobID != "b" {
		t.Errorf("ledger failed results = %+v, %v", failedResults, err)
	}

	// Report
	rep, err := report.ReadJSON(filepath.Join(dir, "reports", "run-1.json"))
	if err != nil || rep.TotalJobs != 3 {
		t.Errorf("report = %+v, %v", rep, err)
	}

	// Publisher
	if len(pub.results) != 3 || len(pub.summaries) != 1 {
		t.Errorf("published %d results, %d summaries", len(pub.results), len(pub.summaries))
	}

	// Failed jobs queued for retry
	retry, err := app.RetryFailed(context.Background(), "run-1")
	if err != nil || len(retry) != 1 || retry[0].ID != "b" {
		t.Errorf("retry = %+v, %v", retry, err)
	}

	// Lock released
	if len(locker.held) != 0 || len(locker.released) != 1 {
		t.Errorf("locker held=%v released=%v", locker.held, locker.released)
	}
}

func TestApp_CacheSharedAcrossBatches(t *testing.T) {
	prov := &fakeProvider{}
	app, err := NewApp(context.Background(), testConfig(t, t.TempDir()), WithProviders(prov))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	for i := 0; i < 2; i++ {
		if _, err := app.RunBatch(context.Background(), Batch{Jobs: []domain.Job{job(fmt.Sprintf("j%d", i), "same text")}}, nil); err != nil {
			t.Fatalf("RunBatch %d: %v", i, err)
		}
	}

	if prov.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (second batch served from cache)", prov.Calls())
	}
	stats, ok := app.CacheStats()
	if !ok || stats.Hits != 1 {
		t.Errorf("cache stats = %+v, %v", stats, ok)
	}
}

func TestApp_LockHeld(t *testing.T) {
	prov := &fakeProvider{}
	locker := &fakeLocker{held: map[string]string{"batch.csv": "other"}}

	app, err := NewApp(context.Background(), testConfig(t, t.TempDir()), WithProviders(prov), WithLocker(locker))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	_, err = app.RunBatch(context.Background(), Batch{Name: "batch.csv", Jobs: []domain.Job{job("a", "x")}}, nil)
	if !errors.Is(err, redisclient.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if prov.Calls() != 0 {
		t.Errorf("provider called %d times while lock was held", prov.Calls())
	}
}

func TestApp_RetryFailedWithoutStore(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t, t.TempDir()), WithProviders(&fakeProvider{}))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Stop(context.Background())

	if _, err := app.RetryFailed(context.Background(), "x"); !errors.Is(err, ErrNoFailedJobStore) {
		t.Errorf("err = %v, want ErrNoFailedJobStore", err)
	}
}
