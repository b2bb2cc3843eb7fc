package orderengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/queue"
	"github.com/krobus00/order-execution-engine/internal/repository"
	"github.com/krobus00/order-execution-engine/internal/service/router"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerFunc func(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*entity.RoutingResult, error)

func (f routerFunc) SelectBestVenue(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*entity.RoutingResult, error) {
	return f(ctx, tokenIn, tokenOut, amount)
}

type countingExecutor struct {
	calls atomic.Int32
	err   error
}

func (e *countingExecutor) Execute(_ context.Context, venue string, order entity.Order) (*entity.ExecutionResult, error) {
	n := e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}

	comparison, _ := order.RoutingDecision.Comparison(venue)
	return &entity.ExecutionResult{
		Venue:         venue,
		SettlementRef: fmt.Sprintf("ref-%s-%d", order.ID, n),
		ExecutedPrice: comparison.Price.Mul(decimal.RequireFromString("0.999")),
		Slippage:      decimal.RequireFromString("0.001"),
		ElapsedTime:   2 * time.Millisecond,
	}, nil
}

// flakyStore fails AppendHistory for one status until healed.
type flakyStore struct {
	entity.OrderStatusStore
	failOn entity.OrderStatus
	broken atomic.Bool
}

func (s *flakyStore) AppendHistory(ctx context.Context, orderID string, entry entity.StatusHistoryEntry) error {
	if s.broken.Load() && entry.Status == s.failOn {
		return entity.NewTransportError("append history", errors.New("connection reset"))
	}
	return s.OrderStatusStore.AppendHistory(ctx, orderID, entry)
}

// cancelAfterSnapshot cancels the job context once the snapshot for status is stored,
// so the history append that follows it fails.
type cancelAfterSnapshot struct {
	entity.OrderStatusStore
	status entity.OrderStatus
	cancel context.CancelFunc
}

func (s *cancelAfterSnapshot) PutSnapshot(ctx context.Context, order *entity.Order) error {
	err := s.OrderStatusStore.PutSnapshot(ctx, order)
	if err == nil && order.Status == s.status {
		s.cancel()
	}
	return err
}

func raydiumRouter() routerFunc {
	return func(_ context.Context, _, _ string, amount decimal.Decimal) (*entity.RoutingResult, error) {
		price := decimal.NewFromInt(150)
		comparison := entity.VenueComparison{
			Venue:          "raydium",
			Price:          price,
			Fee:            decimal.RequireFromString("0.003"),
			EffectivePrice: price.Mul(decimal.RequireFromString("0.997")),
		}
		comparison.Output = amount.Mul(comparison.EffectivePrice)

		return &entity.RoutingResult{
			Decision: entity.RoutingDecision{
				Venues:   []entity.VenueComparison{comparison},
				Selected: "raydium",
				Reason:   "raydium is the only venue quoted",
			},
			Quote: entity.Quote{Venue: "raydium", Price: price, Fee: comparison.Fee},
		}, nil
	}
}

func testEngineConfig() config.OrderEngineConfig {
	return config.OrderEngineConfig{
		ProcessingLockTTL: time.Minute,
		BuildingDelayMin:  time.Millisecond,
		BuildingDelayMax:  2 * time.Millisecond,
	}
}

func seedPendingOrder(t *testing.T, store entity.OrderStatusStore, id string) entity.Job {
	t.Helper()

	now := time.Now().UTC()
	order := &entity.Order{
		ID:        id,
		Type:      entity.OrderTypeMarket,
		TokenIn:   "SOL",
		TokenOut:  "USDC",
		Amount:    decimal.NewFromInt(2),
		Status:    entity.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.PutSnapshot(context.Background(), order))

	return entity.NewJob(*order, 3, time.Millisecond)
}

func historyStatuses(t *testing.T, store entity.OrderStatusStore, id string) []entity.OrderStatus {
	t.Helper()

	history, err := store.GetHistory(context.Background(), id, 0)
	require.NoError(t, err)

	statuses := make([]entity.OrderStatus, 0, len(history))
	for _, entry := range history {
		statuses = append(statuses, entry.Status)
	}
	return statuses
}

func TestCoordinator_HandleJob_Confirmed(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, "order-1"))

	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "raydium", order.SelectedVenue)
	require.NotNil(t, order.RoutingDecision)
	assert.Equal(t, "raydium", order.RoutingDecision.Selected)
	assert.Equal(t, "ref-order-1-1", order.SettlementRef)
	require.NotNil(t, order.ExecutedPrice)
	assert.Equal(t, "149.85", order.ExecutedPrice.String())
	assert.EqualValues(t, 2, order.ExecutionTimeMs)
	assert.Empty(t, order.ErrorDetail)

	history, err := store.GetHistory(context.Background(), "order-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history[0].SelectedVenue)
	assert.Equal(t, "raydium", history[1].SelectedVenue)
	assert.Empty(t, history[3].SettlementRef)
	assert.Equal(t, "ref-order-1-1", history[4].SettlementRef)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestCoordinator_HandleJob_VenueFailure(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	failingRouter := routerFunc(func(context.Context, string, string, decimal.Decimal) (*entity.RoutingResult, error) {
		return nil, &entity.VenueQuoteError{Venue: "meteora", Err: errors.New("quote request timed out")}
	})
	coordinator := NewCoordinator(store, failingRouter, executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, []entity.OrderStatus{entity.OrderStatusPending, entity.OrderStatusFailed}, historyStatuses(t, store, "order-1"))

	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Contains(t, order.ErrorDetail, "meteora")
	assert.Empty(t, order.SelectedVenue)
	assert.Zero(t, executor.calls.Load())
}

func TestCoordinator_HandleJob_NoVenuesFailsOrder(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, router.NewRouterService(nil), executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, []entity.OrderStatus{entity.OrderStatusPending, entity.OrderStatusFailed}, historyStatuses(t, store, "order-1"))

	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Contains(t, order.ErrorDetail, router.ErrNoVenues.Error())
	assert.Zero(t, executor.calls.Load())
}

func TestCoordinator_HandleJob_SettlementFailure(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{err: &entity.SettlementError{Venue: "raydium", Err: errors.New("transaction was not confirmed")}}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, []entity.OrderStatus{
		entity.OrderStatusPending,
		entity.OrderStatusRouting,
		entity.OrderStatusBuilding,
		entity.OrderStatusSubmitted,
		entity.OrderStatusFailed,
	}, historyStatuses(t, store, "order-1"))

	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, order.Status)
	assert.Contains(t, order.ErrorDetail, "not confirmed")
	assert.Empty(t, order.SettlementRef)
}

func TestCoordinator_HandleJob_TransportErrorThenReconcile(t *testing.T) {
	store := &flakyStore{
		OrderStatusStore: repository.NewMemoryOrderStatusRepository(),
		failOn:           entity.OrderStatusBuilding,
	}
	store.broken.Store(true)

	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())
	job := seedPendingOrder(t, store, "order-1")

	err := coordinator.HandleJob(context.Background(), job)
	var transportErr *entity.TransportError
	require.ErrorAs(t, err, &transportErr)

	// the transition ran to the end, history stopped at the failed append
	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusConfirmed, order.Status)
	assert.Equal(t, []entity.OrderStatus{entity.OrderStatusPending, entity.OrderStatusRouting}, historyStatuses(t, store, "order-1"))

	store.broken.Store(false)
	job.Attempt = 2
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, "order-1"))
	assert.EqualValues(t, 1, executor.calls.Load())

	history, err := store.GetHistory(context.Background(), "order-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history[2].SettlementRef)
	assert.Equal(t, order.SettlementRef, history[4].SettlementRef)
}

func TestCoordinator_HandleJob_RedeliveryIsIdempotent(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	require.NoError(t, coordinator.HandleJob(context.Background(), job))
	require.NoError(t, coordinator.HandleJob(context.Background(), job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, "order-1"))
	assert.EqualValues(t, 1, executor.calls.Load())
}

func TestCoordinator_HandleJob_ResumesNonTerminal(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())
	ctx := context.Background()

	job := seedPendingOrder(t, store, "order-1")
	order, err := store.GetSnapshot(ctx, "order-1")
	require.NoError(t, err)

	// a previous delivery died after recording the routing decision
	result, err := raydiumRouter()(ctx, order.TokenIn, order.TokenOut, order.Amount)
	require.NoError(t, err)
	require.NoError(t, store.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, time.Now())))
	order.Status = entity.OrderStatusRouting
	order.SelectedVenue = result.Decision.Selected
	order.RoutingDecision = &result.Decision
	require.NoError(t, store.PutSnapshot(ctx, order))
	require.NoError(t, store.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, time.Now())))

	require.NoError(t, coordinator.HandleJob(ctx, job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, "order-1"))
	assert.EqualValues(t, 1, executor.calls.Load())
}

func TestCoordinator_HandleJob_ResumeFillsHistoryGap(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())
	ctx := context.Background()

	job := seedPendingOrder(t, store, "order-1")
	order, err := store.GetSnapshot(ctx, "order-1")
	require.NoError(t, err)
	require.NoError(t, store.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, time.Now())))

	// routing reached the snapshot but its history entry was never appended
	result, err := raydiumRouter()(ctx, order.TokenIn, order.TokenOut, order.Amount)
	require.NoError(t, err)
	order.Status = entity.OrderStatusRouting
	order.SelectedVenue = result.Decision.Selected
	order.RoutingDecision = &result.Decision
	require.NoError(t, store.PutSnapshot(ctx, order))

	require.NoError(t, coordinator.HandleJob(ctx, job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, "order-1"))
	assert.EqualValues(t, 1, executor.calls.Load())

	history, err := store.GetHistory(ctx, "order-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "raydium", history[1].SelectedVenue)
	assert.Empty(t, history[1].SettlementRef)
}

func TestCoordinator_HandleJob_CanceledBetweenSnapshotAndHistory(t *testing.T) {
	memory := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	job := seedPendingOrder(t, memory, "order-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelAfterSnapshot{OrderStatusStore: memory, status: entity.OrderStatusRouting, cancel: cancel}

	err := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig()).HandleJob(ctx, job)
	require.Error(t, err)

	order, err := memory.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusRouting, order.Status)
	assert.Equal(t, []entity.OrderStatus{entity.OrderStatusPending}, historyStatuses(t, memory, "order-1"))

	job.Attempt = 2
	require.NoError(t, NewCoordinator(memory, raydiumRouter(), executor, testEngineConfig()).HandleJob(context.Background(), job))

	assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, memory, "order-1"))
	assert.EqualValues(t, 1, executor.calls.Load())
}

func TestCoordinator_SettlementFailureIsNotRedelivered(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{err: &entity.SettlementError{Venue: "raydium", Err: errors.New("transaction was not confirmed")}}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())
	jobs := queue.NewMemoryQueue(queue.MemoryQueueConfig{Concurrency: 1})
	submitter := NewOrderEngineService(store, jobs, 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = jobs.Consume(ctx, coordinator.HandleJob)
	}()

	order, err := submitter.SubmitOrder(ctx, entity.SubmitOrderRequest{
		TokenIn:  "SOL",
		TokenOut: "USDC",
		Amount:   decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return jobs.Stats().Acked == 1
	}, 5*time.Second, 10*time.Millisecond)

	// leave room for a retry timer to fire if one had been scheduled
	time.Sleep(50 * time.Millisecond)
	stats := jobs.Stats()
	assert.EqualValues(t, 1, stats.Delivered)
	assert.EqualValues(t, 1, stats.Acked)
	assert.Zero(t, stats.Retried)
	assert.Zero(t, stats.DeadLettered)
	assert.EqualValues(t, 1, executor.calls.Load())

	snapshot, err := store.GetSnapshot(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusFailed, snapshot.Status)
}

func TestCoordinator_HandleJob_Locked(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())

	job := seedPendingOrder(t, store, "order-1")
	ok, err := store.AcquireProcessingLock(context.Background(), "order-1", time.Minute, "other-worker")
	require.NoError(t, err)
	require.True(t, ok)

	err = coordinator.HandleJob(context.Background(), job)
	assert.ErrorIs(t, err, entity.ErrOrderLocked)
	assert.Empty(t, historyStatuses(t, store, "order-1"))
	assert.Zero(t, executor.calls.Load())
}

func TestCoordinator_HandleJob_CanceledIsNotFailure(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	blockingRouter := routerFunc(func(ctx context.Context, _, _ string, _ decimal.Decimal) (*entity.RoutingResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	coordinator := NewCoordinator(store, blockingRouter, executor, testEngineConfig())
	job := seedPendingOrder(t, store, "order-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := coordinator.HandleJob(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	order, err := store.GetSnapshot(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, order.Status)
	assert.Equal(t, []entity.OrderStatus{entity.OrderStatusPending}, historyStatuses(t, store, "order-1"))

	// the lock was released on the way out
	ok, err := store.AcquireProcessingLock(context.Background(), "order-1", time.Minute, "next-worker")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoordinator_ConcurrentOrders(t *testing.T) {
	store := repository.NewMemoryOrderStatusRepository()
	executor := &countingExecutor{}
	coordinator := NewCoordinator(store, raydiumRouter(), executor, testEngineConfig())
	jobs := queue.NewMemoryQueue(queue.MemoryQueueConfig{Concurrency: 10})
	submitter := NewOrderEngineService(store, jobs, 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = jobs.Consume(ctx, coordinator.HandleJob)
	}()

	const total = 25
	ids := make([]string, total)
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := submitter.SubmitOrder(ctx, entity.SubmitOrderRequest{
				TokenIn:  "SOL",
				TokenOut: "USDC",
				Amount:   decimal.NewFromInt(int64(i + 1)),
			})
			assert.NoError(t, err)
			if order != nil {
				ids[i] = order.ID
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			order, err := store.GetSnapshot(context.Background(), id)
			if err != nil || order.Status != entity.OrderStatusConfirmed {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	refs := make(map[string]struct{}, total)
	for _, id := range ids {
		assert.Equal(t, entity.OrderLifecycle, historyStatuses(t, store, id))
		order, err := store.GetSnapshot(context.Background(), id)
		require.NoError(t, err)
		refs[order.SettlementRef] = struct{}{}
	}
	assert.Len(t, refs, total)
	assert.EqualValues(t, total, executor.calls.Load())
}
