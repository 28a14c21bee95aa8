package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// FailedJobQueue keeps the jobs of a run that did not succeed so they can be resubmitted.
type FailedJobQueue struct {
	client *Client
	ttl    time.Duration
}

// NewFailedJobQueue creates a queue whose entries expire after ttl.
func NewFailedJobQueue(client *Client, ttl time.Duration) *FailedJobQueue {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &FailedJobQueue{client: client, ttl: ttl}
}

// Add stores jobs under the run id (score = attempts, lower = retry first).
func (q *FailedJobQueue) Add(ctx context.Context, runID string, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	key := q.client.failedKey(runID)

	members := make([]redis.Z, 0, len(jobs))
	for _, j := range jobs {
		// Reset lifecycle so the job is submittable again
		j.Status = domain.JobStatusPending
		j.Attempts, j.LastKind, j.LastError = 0, "", ""
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
		}
		members = append(members, redis.Z{Score: 0, Member: data})
	}

	pipe := q.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to queue failed jobs: %w", err)
	}
	return nil
}

// Drain removes and returns every queued job of a run.
func (q *FailedJobQueue) Drain(ctx context.Context, runID string) ([]domain.Job, error) {
	key := q.client.failedKey(runID)

	var members *redis.StringSliceCmd
	_, err := q.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.ZRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain failed jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(members.Val()))
	for _, m := range members.Val() {
		var j domain.Job
		if err := json.Unmarshal([]byte(m), &j); err != nil {
			return nil, fmt.Errorf("invalid queued job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Count returns the number of queued jobs of a run.
func (q *FailedJobQueue) Count(ctx context.Context, runID string) (int64, error) {
	return q.client.rdb.ZCard(ctx, q.client.failedKey(runID)).Result()
}
