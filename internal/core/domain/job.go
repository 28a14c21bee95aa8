package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTerminalState is returned when a job that already finished is mutated.
	ErrTerminalState = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for status changes outside the job lifecycle.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// JobStatus is the lifecycle state of a synthesis job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusInFlight  JobStatus = "in_flight"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"   // breaker was open, no call made
	JobStatusCancelled JobStatus = "cancelled" // stop signal raised before the result was kept
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// VoiceOptions carries provider voice and encoding settings.
// The dispatcher never interprets them; they feed the provider call and the cache key.
type VoiceOptions struct {
	Voice    string            `json:"voice,omitempty"    yaml:"voice"`
	Format   string            `json:"format,omitempty"   yaml:"format"`
	Language string            `json:"language,omitempty" yaml:"language"`
	Speed    float64           `json:"speed,omitempty"    yaml:"speed"`
	Extra    map[string]string `json:"extra,omitempty"    yaml:"extra"`
}

// Job is one text-to-audio conversion request.
type Job struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	OutputKey string       `json:"output_key"`
	Provider  string       `json:"provider"`
	Voice     VoiceOptions `json:"voice"`
	Attempts  int          `json:"attempts"`
	Status    JobStatus    `json:"status"`
	LastKind  ErrorKind    `json:"last_kind,omitempty"`
	LastError string       `json:"last_error,omitempty"`
}

// NewJob creates a pending job.
func NewJob(id, text, outputKey, provider string, voice VoiceOptions) Job {
	return Job{
		ID:        id,
		Text:      text,
		OutputKey: outputKey,
		Provider:  provider,
		Voice:     voice,
		Status:    JobStatusPending,
	}
}

// Transition moves the job to the given status if the lifecycle allows it.
func (j *Job) Transition(to JobStatus) error {
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, j.ID, j.Status)
	}

	switch j.Status {
	case JobStatusPending:
		// A pending job may be short-circuited (cache hit, open breaker, stop signal).
		if to == JobStatusPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
		}
	case JobStatusInFlight:
		if !to.IsTerminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
		}
	}

	j.Status = to
	return nil
}

// Fail records the terminal error and marks the job failed.
func (j *Job) Fail(kind ErrorKind, err error) error {
	j.LastKind = kind
	if err != nil {
		j.LastError = err.Error()
	}
	return j.Transition(JobStatusFailed)
}

// Result is the per-job progress notification emitted once a job reaches a terminal state.
type Result struct {
	JobID     string        `json:"job_id"`
	OutputKey string        `json:"output_key"`
	Provider  string        `json:"provider"`
	Status    JobStatus     `json:"status"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration_ns"`
	CacheHit  bool          `json:"cache_hit"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// DurationMs returns the job duration in milliseconds.
func (r Result) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// ResultFromJob builds a Result snapshot of a terminal job.
func ResultFromJob(j Job, elapsed time.Duration, cacheHit bool) Result {
	return Result{
		JobID:     j.ID,
		OutputKey: j.OutputKey,
		Provider:  j.Provider,
		Status:    j.Status,
		Attempts:  j.Attempts,
		Duration:  elapsed,
		CacheHit:  cacheHit,
		ErrorKind: j.LastKind,
		Error:     j.LastError,
	}
}
