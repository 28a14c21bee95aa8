package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/vietddude/voicebatch/internal/batch/cache"
	"github.com/vietddude/voicebatch/internal/batch/dispatch"
	"github.com/vietddude/voicebatch/internal/batch/health"
	"github.com/vietddude/voicebatch/internal/batch/input"
	"github.com/vietddude/voicebatch/internal/batch/metrics"
	"github.com/vietddude/voicebatch/internal/batch/report"
	"github.com/vietddude/voicebatch/internal/core/config"
	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/natsbus"
	redisclient "github.com/vietddude/voicebatch/internal/infra/redis"
	"github.com/vietddude/voicebatch/internal/infra/sink"
	"github.com/vietddude/voicebatch/internal/infra/storage"
	"github.com/vietddude/voicebatch/internal/infra/storage/memory"
	"github.com/vietddude/voicebatch/internal/infra/storage/postgres"
	"github.com/vietddude/voicebatch/internal/infra/synth/provider"
	"github.com/vietddude/voicebatch/internal/infra/synth/routing"
)

const (
	lockTTL          = 10 * time.Minute
	lockRefresh      = 3 * time.Minute
	failedJobsTTL    = 7 * 24 * time.Hour
	runIDPlaceholder = "{run_id}"
)

// ErrNoFailedJobStore is returned by RetryFailed when redis is not configured.
var ErrNoFailedJobStore = errors.New("failed job store not configured")

// Batch is one submission of jobs.
type Batch struct {
	ID   string // run id, generated when empty
	Name string // lock name, defaults to ID
	Jobs []domain.Job
}

// Option configures an App. Options take precedence over what the config would build.
type Option func(*App)

// WithProviders registers the given providers instead of building them from config.
func WithProviders(ps ...provider.Provider) Option {
	return func(a *App) { a.providers = append(a.providers, ps...) }
}

// WithWriter sets the audio destination.
func WithWriter(w dispatch.Writer) Option {
	return func(a *App) { a.writer = w }
}

// WithLedger sets the run ledger.
func WithLedger(r storage.RunRepository) Option {
	return func(a *App) { a.ledger = r }
}

// WithPublisher sets the progress publisher.
func WithPublisher(p ProgressPublisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithFailedJobs sets the failed job store.
func WithFailedJobs(s FailedJobStore) Option {
	return func(a *App) { a.failed = s }
}

// WithLocker sets the batch locker.
func WithLocker(l BatchLocker) Option {
	return func(a *App) { a.locker = l }
}

// WithDispatchOptions appends dispatcher options applied to every batch.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(a *App) { a.extraDispatch = append(a.extraDispatch, opts...) }
}

// App owns the long-lived engine state: providers, circuits, cache and collaborators.
// Circuits and cache outlive a batch and are shared by every batch the App runs.
type App struct {
	cfg       *config.AppConfig
	providers []provider.Provider
	registry  *provider.Registry
	breakers  *routing.Breakers
	monitor   *health.Monitor
	cache     *cache.Cache
	sweeper   *cache.Sweeper

	writer    dispatch.Writer
	ledger    storage.RunRepository
	publisher ProgressPublisher
	failed    FailedJobStore
	locker    BatchLocker

	healthServer  *health.Server
	db            *postgres.DB
	redisClient   *redisclient.Client
	nc            *nats.Conn
	closers       []io.Closer
	extraDispatch []dispatch.Option
	log           *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default().With("component", "app"),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.init(ctx); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// 1. Providers
	if len(a.providers) == 0 {
		for _, pc := range a.cfg.Providers {
			p, err := buildProvider(pc)
			if err != nil {
				return err
			}
			a.providers = append(a.providers, p)
			if c, ok := p.(io.Closer); ok {
				a.closers = append(a.closers, c)
			}
		}
	}
	if len(a.providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	a.registry = provider.NewRegistry(a.cfg.Input.DefaultProvider)
	for _, p := range a.providers {
		a.registry.Add(p)
	}

	// 2. Health monitor and circuits
	a.monitor = health.NewMonitor(a.registry.Names())
	a.breakers = routing.NewBreakers(a.cfg.BreakerConfig(), routing.WithStateListener(a.monitor.OnStateChange))
	a.monitor.Attach(a.breakers)
	if a.cfg.Server.Port > 0 {
		a.healthServer = health.NewServer(a.monitor, a.cfg.Server.Port, a.cfg.Server.GRPCPort)
	}

	// 3. Redis: shared cache tier, failed jobs, batch lock
	if a.cfg.UsesRedis() {
		client, err := redisclient.NewClient(a.cfg.Redis)
		if err != nil {
			return err
		}
		a.redisClient = client
		a.closers = append(a.closers, client)
		if a.failed == nil {
			a.failed = redisclient.NewFailedJobQueue(client, failedJobsTTL)
		}
		if a.locker == nil {
			a.locker = client
		}
	}

	// 4. Response cache
	if a.cfg.Cache.Capacity > 0 {
		var cacheOpts []cache.Option
		if a.cfg.Cache.Redis && a.redisClient != nil {
			cacheOpts = append(cacheOpts, cache.WithBacking(redisclient.NewAudioCache(a.redisClient)))
		}
		c, err := cache.New(a.cfg.CacheConfig(), cacheOpts...)
		if err != nil {
			return err
		}
		a.cache = c
		a.sweeper = cache.NewSweeper(c, a.cfg.SweepInterval())
	}

	// 5. NATS: audio objects and progress events
	if a.cfg.NATS.URL != "" {
		nc, err := natsbus.Connect(a.cfg.NATS)
		if err != nil {
			return err
		}
		a.nc = nc
		if a.publisher == nil {
			a.publisher = natsbus.NewPublisher(nc, a.cfg.NATS.ProgressSubject)
		}
	}

	// 6. Output
	if a.writer == nil {
		w, err := a.buildWriter(ctx)
		if err != nil {
			return err
		}
		a.writer = w
	}

	// 7. Ledger
	if a.ledger == nil {
		if a.cfg.Database.URL != "" {
			db, err := postgres.NewDB(ctx, a.cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to init db: %w", err)
			}
			a.db = db
			if err := db.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate db: %w", err)
			}
			a.ledger = postgres.NewRunRepo(db)
			a.log.Info("Using PostgreSQL ledger")
		} else {
			a.ledger = memory.NewRunRepo()
			a.log.Info("Using memory ledger")
		}
	}

	return nil
}

func buildProvider(pc config.ProviderConfig) (provider.Provider, error) {
	switch pc.Kind {
	case config.KindGRPC:
		return provider.NewGRPCProvider(provider.GRPCConfig{
			Name:     pc.Name,
			Endpoint: pc.URL,
			APIKey:   pc.APIKey,
			Model:    pc.Model,
			Timeout:  pc.TimeoutDuration(),
		})
	case config.KindOpenAI:
		return provider.NewHTTPProvider(provider.HTTPConfig{
			Name:    pc.Name,
			URL:     pc.URL,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			Style:   provider.StyleOpenAI,
			Timeout: pc.TimeoutDuration(),
		}), nil
	default:
		return provider.NewHTTPProvider(provider.HTTPConfig{
			Name:    pc.Name,
			URL:     pc.URL,
			APIKey:  pc.APIKey,
			Model:   pc.Model,
			Style:   provider.StyleGeneric,
			Timeout: pc.TimeoutDuration(),
		}), nil
	}
}

func (a *App) buildWriter(ctx context.Context) (dispatch.Writer, error) {
	switch a.cfg.Output.Kind {
	case config.OutputNATS:
		if a.nc == nil {
			return nil, fmt.Errorf("nats output requires a nats connection")
		}
		js, err := a.nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get jetstream context: %w", err)
		}
		return natsbus.NewObjectSink(js, a.cfg.NATS.Bucket, a.cfg.NATS.Storage)
	case config.OutputDrive:
		return sink.NewDriveSink(ctx, a.cfg.Output.Drive)
	default:
		return sink.NewFileSink(a.cfg.Output.Dir)
	}
}

// Start starts the background components. It does not block.
func (a *App) Start(ctx context.Context) {
	if a.healthServer != nil {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}
	if a.sweeper != nil {
		go a.sweeper.Start(ctx)
	}
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
}

// RunBatch executes a batch to completion, then persists and announces the outcome.
// A persistence failure is returned together with the summary.
func (a *App) RunBatch(ctx context.Context, b Batch, onProgress func(domain.Result)) (*domain.Summary, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Name == "" {
		b.Name = b.ID
	}

	if a.locker != nil {
		if err := a.locker.AcquireLock(ctx, b.Name, b.ID, lockTTL); err != nil {
			return nil, err
		}
		stop := a.keepLock(ctx, b.Name)
		defer func() {
			stop()
			if err := a.locker.ReleaseLock(context.WithoutCancel(ctx), b.Name, b.ID); err != nil {
				a.log.Warn("Failed to release batch lock", "batch", b.Name, "error", err)
			}
		}()
	}

	d, err := dispatch.New(a.cfg.EngineConfig(), a.breakers, a.dispatchOptions(b.ID)...)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Result, 0, len(b.Jobs))
	summary, err := d.Execute(ctx, b.Jobs, a.registry, func(r domain.Result) {
		results = append(results, r)
		if a.publisher != nil {
			if err := a.publisher.PublishResult(b.ID, r); err != nil {
				a.log.Warn("Failed to publish progress", "job", r.JobID, "error", err)
			}
		}
		if onProgress != nil {
			onProgress(r)
		}
	})
	if err != nil {
		return nil, err
	}

	return summary, a.persist(context.WithoutCancel(ctx), summary, results, b.Jobs)
}

func (a *App) dispatchOptions(runID string) []dispatch.Option {
	opts := []dispatch.Option{
		dispatch.WithRunID(runID),
		dispatch.WithWriter(a.writer),
		dispatch.WithMetrics(metrics.NewAggregator(a.cfg.Thresholds())),
	}
	if a.cache != nil {
		opts = append(opts, dispatch.WithCache(a.cache))
	}
	for _, pc := range a.cfg.Providers {
		opts = append(opts, dispatch.WithRateLimit(pc.Name, pc.RequestsPerSecond, pc.Burst))
	}
	return append(opts, a.extraDispatch...)
}

func (a *App) persist(ctx context.Context, summary *domain.Summary, results []domain.Result, jobs []domain.Job) error {
	var errs error

	if err := a.ledger.SaveRun(ctx, summary); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("save run: %w", err))
	}
	if err := a.ledger.SaveResults(ctx, summary.RunID, results); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("save results: %w", err))
	}

	if path := a.cfg.Output.ReportPath; path != "" {
		path = strings.ReplaceAll(path, runIDPlaceholder, summary.RunID)
		if err := report.WriteJSON(path, summary); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			a.log.Info("Report written", "path", path)
		}
	}

	if a.failed != nil {
		if unsuccessful := unsuccessfulJobs(results, jobs); len(unsuccessful) > 0 {
			if err := a.failed.Add(ctx, summary.RunID, unsuccessful); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("store failed jobs: %w", err))
			} else {
				a.log.Info("Stored failed jobs for retry", "run_id", summary.RunID, "count", len(unsuccessful))
			}
		}
	}

	if a.publisher != nil {
		if err := a.publisher.PublishSummary(summary); err != nil {
			a.log.Warn("Failed to publish summary", "run_id", summary.RunID, "error", err)
		}
	}
	return errs
}

func unsuccessfulJobs(results []domain.Result, jobs []domain.Job) []domain.Job {
	byID := make(map[string]domain.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	var out []domain.Job
	for _, r := range results {
		if r.Status == domain.JobStatusSucceeded {
			continue
		}
		if j, ok := byID[r.JobID]; ok {
			out = append(out, j)
		}
	}
	return out
}

// keepLock refreshes the batch lock until the returned stop function is called.
func (a *App) keepLock(ctx context.Context, batch string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.locker.RefreshLock(ctx, batch, lockTTL); err != nil {
					a.log.Warn("Failed to refresh batch lock", "batch", batch, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// RetryFailed returns the jobs that did not succeed in a previous run.
func (a *App) RetryFailed(ctx context.Context, runID string) ([]domain.Job, error) {
	if a.failed == nil {
		return nil, ErrNoFailedJobStore
	}
	return a.failed.Drain(ctx, runID)
}

// InputDefaults returns the values applied to rows that leave them empty.
func (a *App) InputDefaults() input.Defaults {
	return input.Defaults{
		Provider: a.cfg.Input.DefaultProvider,
		Voice:    a.cfg.Input.Voice,
	}
}

// Ledger returns the run ledger.
func (a *App) Ledger() storage.RunRepository {
	return a.ledger
}

// CacheStats returns the cache counters, or false when the cache is disabled.
func (a *App) CacheStats() (cache.Stats, bool) {
	if a.cache == nil {
		return cache.Stats{}, false
	}
	return a.cache.Stats(), true
}

// Stop stops the servers and releases every connection.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping app...")

	var errs error
	if a.healthServer != nil {
		errs = multierr.Append(errs, a.healthServer.Stop(ctx))
	}
	return multierr.Append(errs, a.closeAll())
}

func (a *App) closeAll() error {
	var errs error
	for _, c := range a.closers {
		errs = multierr.Append(errs, c.Close())
	}
	a.closers = nil
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = multierr.Append(errs, err)
		}
		a.nc = nil
	}
	if a.db != nil {
		errs = multierr.Append(errs, a.db.Close())
		a.db = nil
	}
	return errs
}
