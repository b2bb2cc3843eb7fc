package util

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/nats-io/nats.go"
)

// ProcessWithTimeout runs callback under a deadline derived from parent. A zero timeout
// leaves the parent deadline untouched.
func ProcessWithTimeout(parent context.Context, timeout time.Duration, job entity.Job, callback entity.JobHandler) error {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callback(ctx, job)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("processing timeout for job %s (attempt %d): %w", job.ID, job.Attempt, ctx.Err())
	case err := <-done:
		return err
	}
}

func PublishEvent(ctx context.Context, js nats.JetStreamContext, subject string, data any, opts ...nats.PubOpt) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	opts = append(opts, nats.Context(ctx))
	_, err = js.Publish(subject, payload, opts...)
	if err != nil {
		return err
	}

	return nil
}
