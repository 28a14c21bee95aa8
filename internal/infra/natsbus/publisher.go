package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// DefaultProgressSubject is used when none is configured.
const DefaultProgressSubject = "voicebatch.progress"

// ProgressEvent is the message published for each finished job.
type ProgressEvent struct {
	RunID      string           `json:"run_id"`
	JobID      string           `json:"id"`
	Status     domain.JobStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	DurationMs int64            `json:"duration_ms"`
	CacheHit   bool             `json:"cache_hit"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Publisher sends progress events and the final summary on NATS subjects.
// Job events go to <subject>.<run id>, the summary to <subject>.<run id>.summary.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a publisher.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultProgressSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// Subject returns the subject events of runID are published on.
func (p *Publisher) Subject(runID string) string {
	return p.subject + "." + runID
}

// PublishResult publishes one job result.
func (p *Publisher) PublishResult(runID string, r domain.Result) error {
	data, err := json.Marshal(ProgressEvent{
		RunID:      runID,
		JobID:      r.JobID,
		Status:     r.Status,
		Attempts:   r.Attempts,
		DurationMs: r.DurationMs(),
		CacheHit:   r.CacheHit,
		ErrorKind:  r.ErrorKind,
		Error:      r.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(runID), data); err != nil {
		return fmt.Errorf("failed to publish progress for job %s: %w", r.JobID, err)
	}
	return nil
}

// PublishSummary publishes the batch summary and flushes the connection.
func (p *Publisher) PublishSummary(s *domain.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := p.nc.Publish(p.Subject(s.RunID)+".summary", data); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	return p.nc.Flush()
}
