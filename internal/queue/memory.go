package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an unbounded in-process FIFO. Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	items    []*Job
	inFlight int
	closed   bool

	// notify wakes a blocked Dequeue; idle is closed and replaced whenever the
	// queue drains so Wait callers can block on it.
	notify chan struct{}
	idle   chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	idle := make(chan struct{})
	close(idle)
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
		idle:   idle,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, personID int64) error {
	return q.push(newJob(personID))
}

func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	return q.push(newJob(ShutdownPersonID))
}

func (q *MemoryQueue) push(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	if q.isIdle() {
		q.idle = make(chan struct{})
	}
	q.items = append(q.items, job)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.inFlight++
			remaining := len(q.items)
			q.mu.Unlock()

			// Pass the wakeup on if more jobs are waiting.
			if remaining > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Done(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == 0 {
		return nil
	}
	q.inFlight--
	if q.isIdle() {
		close(q.idle)
	}
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Wait blocks until every enqueued job has been dequeued and marked done.
func (q *MemoryQueue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (q *MemoryQueue) isIdle() bool {
	return len(q.items) == 0 && q.inFlight == 0
}
