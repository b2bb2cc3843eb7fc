package entity

import (
	"context"
	"time"
)

// Job is the queue envelope of one order. Attempt is 1-based and set by the queue on delivery.
type Job struct {
	ID          string        `json:"jobId"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     time.Duration `json:"backoff"`
	Order       Order         `json:"order"`
}

func NewJob(order Order, maxAttempts int, backoff time.Duration) Job {
	return Job{
		ID:          order.ID,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		Order:       order,
	}
}

// JobHandler processes one delivery. A non-nil error asks the queue to retry.
type JobHandler func(ctx context.Context, job Job) error

type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume blocks, dispatching jobs to handler until ctx is done.
	Consume(ctx context.Context, handler JobHandler) error
}

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}
