package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const QueueMemorialVideo = "queue:memorial_video"

// ShutdownPersonID marks the sentinel job that stops the worker loop.
// Person ids are assigned by the store starting at 1, so 0 never collides.
const ShutdownPersonID int64 = 0

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of video generation jobs consumed by a single worker.
type Queue interface {
	// Enqueue appends a job for the person. It does not block.
	Enqueue(ctx context.Context, personID int64) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Job, error)
	// Done marks a dequeued job as consumed.
	Done(ctx context.Context, job *Job) error
	// Shutdown enqueues the sentinel job behind everything already queued.
	Shutdown(ctx context.Context) error
	// Len reports the number of jobs waiting to be dequeued.
	Len(ctx context.Context) (int64, error)
	Close() error
}

type Job struct {
	ID         uuid.UUID `json:"id"`
	PersonID   int64     `json:"person_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// raw is the serialized payload as stored by the backend, when it has one.
	raw string
}

func newJob(personID int64) *Job {
	return &Job{
		ID:         uuid.New(),
		PersonID:   personID,
		EnqueuedAt: time.Now(),
	}
}

// IsShutdown reports whether this is the sentinel job.
func (j *Job) IsShutdown() bool {
	return j.PersonID == ShutdownPersonID
}
