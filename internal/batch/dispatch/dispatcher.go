// Package dispatch runs a batch of synthesis jobs on a bounded worker pool.
//
// Per job the worker checks the response cache, asks the provider circuit for
// permission, calls the provider, classifies failures and retries them per policy.
// Every job produces exactly one terminal Result on the progress channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vietddude/voicebatch/internal/batch/cache"
	"github.com/vietddude/voicebatch/internal/batch/metrics"
	"github.com/vietddude/voicebatch/internal/core/domain"
	"github.com/vietddude/voicebatch/internal/infra/synth/provider"
	"github.com/vietddude/voicebatch/internal/infra/synth/routing"
)

// Writer persists a synthesized payload under the job's output key.
type Writer interface {
	Write(ctx context.Context, key string, payload []byte) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCache enables the response cache.
func WithCache(c *cache.Cache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithWriter sets where successful payloads are written.
func WithWriter(w Writer) Option {
	return func(d *Dispatcher) { d.writer = w }
}

// WithMetrics sets the aggregator samples are recorded into.
func WithMetrics(a *metrics.Aggregator) Option {
	return func(d *Dispatcher) { d.metrics = a }
}

// WithRateLimit throttles calls to one provider. Zero rps disables the limit.
func WithRateLimit(providerName string, rps float64, burst int) Option {
	return func(d *Dispatcher) {
		if rps <= 0 {
			return
		}
		d.limiters[providerName] = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithSleep replaces the backoff sleep, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// WithRunID fixes the id Execute stamps on the summary.
func WithRunID(id string) Option {
	return func(d *Dispatcher) { d.runID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher executes batches. Circuits and cache are shared by every batch it runs.
type Dispatcher struct {
	cfg      Config
	breakers *routing.Breakers
	cache    *cache.Cache
	writer   Writer
	metrics  *metrics.Aggregator
	limiters map[string]*rate.Limiter // read-only after New
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	runID    string

	// flight collapses concurrent misses on one cache key into a single provider call.
	flight singleflight.Group
}

// errNotProduced tells singleflight waiters that the leading job did not succeed.
var errNotProduced = errors.New("payload not produced")

// New creates a dispatcher. Configuration problems are reported here, before any job runs.
func New(cfg Config, breakers *routing.Breakers, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if breakers == nil {
		return nil, fmt.Errorf("%w: nil breakers", ErrInvalidConfig)
	}
	if cfg.BreakerOpenPolicy == "" {
		cfg.BreakerOpenPolicy = BreakerOpenSkip
	}

	d := &Dispatcher{
		cfg:      cfg,
		breakers: breakers,
		limiters: make(map[string]*rate.Limiter),
		sleep:    sleepCtx,
		logger:   slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewAggregator(metrics.DefaultThresholds)
	}
	return d, nil
}

// Metrics returns the aggregator samples are recorded into.
func (d *Dispatcher) Metrics() *metrics.Aggregator {
	return d.metrics
}

// Run starts the workers and returns the progress channel. The channel receives one
// Result per job, in completion order, and is closed once every job is terminal.
// Cancelling ctx stops the batch: remaining jobs are reported cancelled.
func (d *Dispatcher) Run(ctx context.Context, jobs []domain.Job, selector provider.Selector) (<-chan domain.Result, error) {
	if selector == nil {
		return nil, ErrNoSelector
	}

	// Buffered for the whole batch so workers never wait on a slow consumer.
	out := make(chan domain.Result, len(jobs))
	q := newQueue(jobs)
	workers := d.cfg.Concurrency(len(jobs))

	d.logger.Info("Starting batch", "jobs", len(jobs), "workers", workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				job, ok := q.pop()
				if !ok {
					return nil
				}
				out <- d.process(ctx, job, selector)
			}
		})
	}

	go func() {
		_ = g.Wait()
		close(out)
	}()

	return out, nil
}

// Execute runs a batch, hands every Result to onProgress from a single goroutine,
// and returns the batch summary.
func (d *Dispatcher) Execute(
	ctx context.Context,
	jobs []domain.Job,
	selector provider.Selector,
	onProgress func(domain.Result),
) (*domain.Summary, error) {
	started := time.Now()
	tripsBefore := d.breakers.TripCounts()

	results, err := d.Run(ctx, jobs, selector)
	if err != nil {
		return nil, err
	}

	runID := d.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := &domain.Summary{
		RunID:       runID,
		StartedAt:   started,
		Concurrency: d.cfg.Concurrency(len(jobs)),
	}
	for r := range results {
		summary.Add(r)
		summary.ProviderCalls += int64(r.Attempts)
		if onProgress != nil {
			onProgress(r)
		}
	}

	summary.Elapsed = time.Since(started)
	summary.TrippedProviders = d.breakers.TrippedSince(tripsBefore)

	report := d.metrics.Summary()
	summary.PerOperation = report.PerOperation
	summary.Recommendations = append(report.Recommendations, d.metrics.Advise(summary)...)

	d.logger.Info("Batch finished",
		"run_id", summary.RunID,
		"total", summary.TotalJobs,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"cancelled", summary.Cancelled,
		"cache_hit_rate", summary.CacheHitRate,
		"elapsed", summary.Elapsed.Round(time.Millisecond),
	)
	return summary, nil
}

// process drives one job to a terminal state.
func (d *Dispatcher) process(ctx context.Context, job domain.Job, selector provider.Selector) domain.Result {
	start := time.Now()
	cacheHit := false

	finish := func() domain.Result {
		r := domain.ResultFromJob(job, time.Since(start), cacheHit)
		d.record(r, start)
		return r
	}

	if ctx.Err() != nil {
		d.cancel(&job, ctx.Err())
		return finish()
	}

	prov, err := selector.Select(job.Provider)
	if err != nil {
		_ = job.Fail(domain.KindConfiguration, err)
		d.logFailure(job)
		return finish()
	}
	job.Provider = prov.Name()

	if d.cache == nil {
		d.produce(ctx, &job, prov, "")
		return finish()
	}

	key := cache.Key(job.Provider, job.Voice, job.Text)
	if payload, ok := d.cache.Fetch(ctx, key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		cacheHit = true
		d.serveCached(ctx, &job, payload)
		return finish()
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	// Identical jobs in flight at the same time wait for one leader instead of
	// each calling the provider. Nothing is shared unless the leader succeeded.
	led := false
	v, err, _ := d.flight.Do(key, func() (any, error) {
		if payload, ok := d.cache.Fetch(ctx, key); ok {
			return payload, nil
		}
		led = true
		payload, ok := d.produce(ctx, &job, prov, key)
		if !ok {
			return nil, errNotProduced
		}
		return payload, nil
	})
	if led {
		return finish()
	}
	if err == nil {
		cacheHit = true
		d.serveCached(ctx, &job, v.([]byte))
		return finish()
	}

	// The leader failed; this job gets its own attempts.
	d.produce(ctx, &job, prov, key)
	return finish()
}

// serveCached completes a job from a cached payload.
func (d *Dispatcher) serveCached(ctx context.Context, job *domain.Job, payload []byte) {
	if err := d.write(ctx, job.OutputKey, payload); err != nil {
		_ = job.Fail(routing.Classify(err), err)
		d.logFailure(*job)
		return
	}
	_ = job.Transition(domain.JobStatusSucceeded)
}

// produce synthesizes, writes and caches a payload. On failure the job is already
// terminal and ok is false. An empty key skips the cache.
func (d *Dispatcher) produce(ctx context.Context, job *domain.Job, prov provider.Provider, key string) ([]byte, bool) {
	_ = job.Transition(domain.JobStatusInFlight)
	payload, ok := d.attempt(ctx, job, prov)
	if !ok {
		return nil, false
	}

	if err := d.write(ctx, job.OutputKey, payload); err != nil {
		_ = job.Fail(routing.Classify(err), err)
		d.logFailure(*job)
		return nil, false
	}
	if key != "" {
		// Only a fully successful job makes its payload visible to readers.
		d.cache.Store(ctx, key, payload)
	}
	_ = job.Transition(domain.JobStatusSucceeded)
	return payload, true
}

// attempt runs the retry loop. It returns the payload on success; otherwise the job
// is already terminal.
func (d *Dispatcher) attempt(ctx context.Context, job *domain.Job, prov provider.Provider) ([]byte, bool) {
	circuit := d.breakers.Get(job.Provider)
	limiter := d.limiters[job.Provider]
	op := metrics.SynthesizeOp(job.Provider)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			d.cancel(job, ctx.Err())
			return nil, false
		}

		// Wait before asking the circuit so an admitted half-open trial is always reported.
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				d.cancel(job, ctx.Err())
				return nil, false
			}
		}

		ticket, err := circuit.Allow()
		if err != nil {
			d.rejectOpen(job, err, lastErr)
			return nil, false
		}

		job.Attempts = attempt
		callStart := time.Now()
		payload, err := d.call(ctx, prov, job)
		sample := metrics.Sample{Operation: op, Start: callStart, End: time.Now(), Success: err == nil}

		if err == nil {
			circuit.RecordSuccess(ticket)
			d.metrics.Record(sample)
			if ctx.Err() != nil {
				d.cancel(job, ctx.Err())
				return nil, false
			}
			return payload, true
		}

		kind := routing.Classify(err)
		sample.Kind = kind
		circuit.RecordFailure(ticket)
		d.metrics.Record(sample)
		metrics.ProviderErrorsTotal.WithLabelValues(job.Provider, string(kind)).Inc()
		lastErr = err
		job.LastKind = kind
		job.LastError = err.Error()

		if ctx.Err() != nil {
			d.cancel(job, ctx.Err())
			return nil, false
		}

		next, retry := d.cfg.Retry.Next(kind, attempt, d.cfg.MaxAttempts, routing.RetryHint(err))
		if !retry {
			_ = job.Fail(kind, err)
			d.logFailure(*job)
			return nil, false
		}

		d.logger.Debug("Retrying job",
			"job", job.ID,
			"provider", job.Provider,
			"attempt", next.Number,
			"error_kind", kind,
			"delay", next.Delay,
		)
		if err := d.sleep(ctx, next.Delay); err != nil {
			d.cancel(job, ctx.Err())
			return nil, false
		}
	}
}

// call invokes the provider. The call itself is shielded from cancellation:
// a started request runs to completion and the caller decides whether to keep it.
func (d *Dispatcher) call(ctx context.Context, prov provider.Provider, job *domain.Job) ([]byte, error) {
	metrics.ProviderCallsTotal.WithLabelValues(job.Provider).Inc()
	metrics.InFlightCalls.Inc()
	defer metrics.InFlightCalls.Dec()

	return prov.Synthesize(context.WithoutCancel(ctx), job.Text, job.Voice)
}

// write stores the payload. A filesystem failure gets one more try on the
// policy's flat delay, independent of the provider attempt budget.
func (d *Dispatcher) write(ctx context.Context, key string, payload []byte) error {
	if d.writer == nil {
		return nil
	}

	start := time.Now()
	err := d.writer.Write(ctx, key, payload)
	if err != nil {
		if retry, delay := d.cfg.Retry.ShouldRetry(routing.Classify(err), 1, 2); retry {
			if serr := d.sleep(ctx, delay); serr == nil {
				err = d.writer.Write(ctx, key, payload)
			}
		}
	}

	d.metrics.Record(metrics.Sample{
		Operation: metrics.OpSinkWrite,
		Start:     start,
		End:       time.Now(),
		Success:   err == nil,
		Kind:      routing.Classify(err),
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// rejectOpen finishes a job the circuit refused. Before the first attempt this is a
// breaker-open outcome; mid-retry the job fails with its last provider error.
func (d *Dispatcher) rejectOpen(job *domain.Job, openErr, lastErr error) {
	if lastErr != nil {
		_ = job.Fail(job.LastKind, lastErr)
		d.logFailure(*job)
		return
	}

	job.LastKind = domain.KindBreakerOpen
	job.LastError = openErr.Error()
	status := domain.JobStatusSkipped
	if d.cfg.BreakerOpenPolicy == BreakerOpenFail {
		status = domain.JobStatusFailed
	}
	_ = job.Transition(status)
	d.logger.Warn("Job not sent, circuit open", "job", job.ID, "provider", job.Provider, "status", status)
}

func (d *Dispatcher) cancel(job *domain.Job, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	job.LastKind = domain.KindCancelled
	job.LastError = cause.Error()
	_ = job.Transition(domain.JobStatusCancelled)
}

func (d *Dispatcher) record(r domain.Result, start time.Time) {
	d.metrics.Record(metrics.Sample{
		Operation: metrics.OpJob,
		Start:     start,
		End:       start.Add(r.Duration),
		Success:   r.Status == domain.JobStatusSucceeded,
		Kind:      r.ErrorKind,
	})
	metrics.JobsTotal.WithLabelValues(r.Provider, string(r.Status)).Inc()
}

func (d *Dispatcher) logFailure(job domain.Job) {
	attrs := []any{
		"job", job.ID,
		"provider", job.Provider,
		"attempts", job.Attempts,
		"error_kind", job.LastKind,
		"error", job.LastError,
	}
	if job.LastKind.Severity() == domain.SeverityHigh {
		d.logger.Error("Job failed", attrs...)
		return
	}
	d.logger.Warn("Job failed", attrs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
