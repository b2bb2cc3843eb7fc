package util

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, ErrorKindBusiness, ErrorKind(&entity.SettlementError{Venue: "raydium", Err: errors.New("boom")}))
	assert.Equal(t, ErrorKindTransport, ErrorKind(fmt.Errorf("persist: %w", entity.NewTransportError("put snapshot", errors.New("refused")))))
	assert.Equal(t, ErrorKindTransport, ErrorKind(entity.ErrOrderLocked))
	assert.Equal(t, ErrorKindCanceled, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, ErrorKindUnknown, ErrorKind(errors.New("other")))
}

func TestProcessWithTimeout(t *testing.T) {
	job := entity.Job{ID: "order-1", Attempt: 1}

	err := ProcessWithTimeout(context.Background(), time.Second, job, func(ctx context.Context, job entity.Job) error {
		return nil
	})
	require.NoError(t, err)

	err = ProcessWithTimeout(context.Background(), 20*time.Millisecond, job, func(ctx context.Context, job entity.Job) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = ProcessWithTimeout(context.Background(), 0, job, func(ctx context.Context, job entity.Job) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
