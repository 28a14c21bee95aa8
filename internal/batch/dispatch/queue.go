package dispatch

import (
	"sync"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// queue is the shared pending-job queue. pop is atomic across workers.
type queue struct {
	mu   sync.Mutex
	jobs []domain.Job
	next int
}

func newQueue(jobs []domain.Job) *queue {
	q := &queue{jobs: make([]domain.Job, len(jobs))}
	copy(q.jobs, jobs)
	return q
}

func (q *queue) pop() (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.next >= len(q.jobs) {
		return domain.Job{}, false
	}
	j := q.jobs[q.next]
	q.jobs[q.next] = domain.Job{}
	q.next++
	return j, true
}

func (q *queue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) - q.next
}
