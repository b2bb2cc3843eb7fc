package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/sirupsen/logrus"
)

const memoryQueueLabel = "memory"

type MemoryQueueConfig struct {
	Concurrency    int
	Buffer         int
	MaxBackoff     time.Duration
	HandlerTimeout time.Duration
}

type QueueStats struct {
	Delivered    int64
	Acked        int64
	Retried      int64
	DeadLettered int64
}

// MemoryQueue is an in-process JobQueue with the same retry policy as the JetStream
// queue. Jobs do not survive a restart.
type MemoryQueue struct {
	jobs           chan entity.Job
	concurrency    int
	maxBackoff     time.Duration
	handlerTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	timers    sync.WaitGroup

	delivered    atomic.Int64
	acked        atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
}

func NewMemoryQueue(cfg MemoryQueueConfig) *MemoryQueue {
	concurrency := max(cfg.Concurrency, 1)
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	return &MemoryQueue{
		jobs:           make(chan entity.Job, buffer),
		concurrency:    concurrency,
		maxBackoff:     maxBackoff,
		handlerTimeout: cfg.HandlerTimeout,
		closed:         make(chan struct{}),
	}
}

// Enqueue blocks while the buffer is full until a worker frees a slot, ctx is done
// or the queue is closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, job entity.Job) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs the workers until ctx is done. Retries scheduled but not yet due are dropped.
func (q *MemoryQueue) Consume(ctx context.Context, handler entity.JobHandler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.deliver(ctx, job, handler)
				}
			}
		}()
	}

	wg.Wait()
	q.timers.Wait()
	return nil
}

func (q *MemoryQueue) deliver(ctx context.Context, job entity.Job, handler entity.JobHandler) {
	job.Attempt++
	q.delivered.Add(1)

	logger := logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"attempt": job.Attempt,
	})

	err := util.ProcessWithTimeout(ctx, q.handlerTimeout, job, handler)
	action := resolveDelivery(err, job.Attempt, job.MaxAttempts)
	metrics.JobsProcessed.WithLabelValues(memoryQueueLabel, action.outcome()).Inc()

	switch action {
	case actionAck:
		q.acked.Add(1)
	case actionRetry:
		q.retried.Add(1)
		delay := util.ExponentialBackoff(job.Attempt, backoffOf(job), q.maxBackoff)
		logger.WithError(err).WithField("delay", delay).Warn("job failed, retrying")
		q.retryAfter(ctx, job, delay)
	case actionTerm:
		q.deadLettered.Add(1)
		logger.WithError(err).WithField("error_kind", util.ErrorKind(err)).Error("job failed, giving up")
	}
}

func (q *MemoryQueue) retryAfter(ctx context.Context, job entity.Job, delay time.Duration) {
	q.timers.Add(1)
	go func() {
		defer q.timers.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		select {
		case q.jobs <- job:
		case <-ctx.Done():
		}
	}()
}

func (q *MemoryQueue) Stats() QueueStats {
	return QueueStats{
		Delivered:    q.delivered.Load(),
		Acked:        q.acked.Load(),
		Retried:      q.retried.Load(),
		DeadLettered: q.deadLettered.Load(),
	}
}

// Close rejects further Enqueue calls and releases the ones blocked on a full buffer.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func backoffOf(job entity.Job) time.Duration {
	if job.Backoff > 0 {
		return job.Backoff
	}
	return defaultBackoff
}
