package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is a process-local Queue. Its consumers share the process, so
// it needs no leases.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Job
	dedup   map[string]struct{}
	active  map[string]Job
	notify  chan struct{}
	closed  bool
	now     func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		dedup:  map[string]struct{}{},
		active: map[string]Job{},
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, opts EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	now := q.now()
	// Keys live as long as the process, so they are held until Ack whatever
	// the TTL.
	if opts.DedupKey != "" {
		if _, ok := q.dedup[opts.DedupKey]; ok {
			return ErrDuplicate
		}
		q.dedup[opts.DedupKey] = struct{}{}
		job.DedupKey = opts.DedupKey
		job.DedupTTL = opts.DedupTTL
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = now.Unix()
	q.pending = append(q.pending, job)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) pop() (*Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, true
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	q.active[job.ID] = job
	if len(q.pending) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return &Delivery{Job: job}, true
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		d, done := q.pop()
		if done {
			if d == nil {
				return nil, ErrClosed
			}
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, d.Job.ID)
	if d.Job.DedupKey != "" {
		delete(q.dedup, d.Job.DedupKey)
	}
	return nil
}

// Len returns the number of jobs waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of dequeued jobs not yet acknowledged.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}
