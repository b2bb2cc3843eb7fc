package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrder(id string) *entity.Order {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	return &entity.Order{
		ID:        id,
		Type:      entity.OrderTypeMarket,
		TokenIn:   "SOL",
		TokenOut:  "USDC",
		Amount:    decimal.NewFromInt(10),
		Status:    entity.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newRedisRepository(t *testing.T) (*RedisOrderStatusRepository, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisOrderStatusRepository(client), server
}

func storesUnderTest(t *testing.T) map[string]entity.OrderStatusStore {
	redisRepo, _ := newRedisRepository(t)
	return map[string]entity.OrderStatusStore{
		"memory": NewMemoryOrderStatusRepository(),
		"redis":  redisRepo,
	}
}

func TestOrderStatusStore_Snapshot(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.GetSnapshot(ctx, "missing")
			require.Error(t, err)
			assert.True(t, errors.Is(err, entity.ErrOrderNotFound))

			order := newTestOrder("order-1")
			require.NoError(t, store.PutSnapshot(ctx, order))

			got, err := store.GetSnapshot(ctx, "order-1")
			require.NoError(t, err)
			assert.Equal(t, "SOL", got.TokenIn)
			assert.True(t, order.Amount.Equal(got.Amount))
			assert.Equal(t, entity.OrderStatusPending, got.Status)

			price := decimal.RequireFromString("149.5")
			order.Status = entity.OrderStatusConfirmed
			order.SettlementRef = "ref-1"
			order.ExecutedPrice = &price
			require.NoError(t, store.PutSnapshot(ctx, order))

			got, err = store.GetSnapshot(ctx, "order-1")
			require.NoError(t, err)
			assert.Equal(t, entity.OrderStatusConfirmed, got.Status)
			assert.Equal(t, "ref-1", got.SettlementRef)
			require.NotNil(t, got.ExecutedPrice)
			assert.True(t, price.Equal(*got.ExecutedPrice))
		})
	}
}

func TestOrderStatusStore_History(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := newTestOrder("order-2")

			length, err := store.HistoryLength(ctx, order.ID)
			require.NoError(t, err)
			assert.Zero(t, length)

			for _, status := range entity.OrderLifecycle {
				order.Status = status
				require.NoError(t, store.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, time.Now().UTC())))
			}

			length, err = store.HistoryLength(ctx, order.ID)
			require.NoError(t, err)
			assert.EqualValues(t, len(entity.OrderLifecycle), length)

			all, err := store.GetHistory(ctx, order.ID, 0)
			require.NoError(t, err)
			require.Len(t, all, len(entity.OrderLifecycle))
			for i, entry := range all {
				assert.Equal(t, entity.OrderLifecycle[i], entry.Status)
				assert.Equal(t, order.ID, entry.OrderID)
			}

			delta, err := store.GetHistory(ctx, order.ID, 3)
			require.NoError(t, err)
			require.Len(t, delta, 2)
			assert.Equal(t, entity.OrderStatusSubmitted, delta[0].Status)

			past, err := store.GetHistory(ctx, order.ID, 42)
			require.NoError(t, err)
			assert.Empty(t, past)

			other, err := store.GetHistory(ctx, "another-order", 0)
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestOrderStatusStore_SnapshotReadIsStable(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.PutSnapshot(ctx, newTestOrder("order-3")))

			first, err := store.GetSnapshot(ctx, "order-3")
			require.NoError(t, err)
			second, err := store.GetSnapshot(ctx, "order-3")
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestOrderStatusStore_ProcessingLock(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			acquired, err := store.AcquireProcessingLock(ctx, "order-4", time.Minute, "worker-a")
			require.NoError(t, err)
			assert.True(t, acquired)

			acquired, err = store.AcquireProcessingLock(ctx, "order-4", time.Minute, "worker-b")
			require.NoError(t, err)
			assert.False(t, acquired)

			// only the owner may release
			require.NoError(t, store.ReleaseProcessingLock(ctx, "order-4", "worker-b"))
			acquired, err = store.AcquireProcessingLock(ctx, "order-4", time.Minute, "worker-b")
			require.NoError(t, err)
			assert.False(t, acquired)

			require.NoError(t, store.ReleaseProcessingLock(ctx, "order-4", "worker-a"))
			acquired, err = store.AcquireProcessingLock(ctx, "order-4", time.Minute, "worker-b")
			require.NoError(t, err)
			assert.True(t, acquired)
		})
	}
}

func TestMemoryOrderStatusRepository_LockExpires(t *testing.T) {
	repo := NewMemoryOrderStatusRepository()
	now := time.Now()
	repo.now = func() time.Time { return now }

	acquired, err := repo.AcquireProcessingLock(context.Background(), "order-5", time.Second, "worker-a")
	require.NoError(t, err)
	require.True(t, acquired)

	now = now.Add(2 * time.Second)
	acquired, err = repo.AcquireProcessingLock(context.Background(), "order-5", time.Second, "worker-b")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisOrderStatusRepository_TransportError(t *testing.T) {
	repo, server := newRedisRepository(t)
	server.Close()

	err := repo.PutSnapshot(context.Background(), newTestOrder("order-6"))
	require.Error(t, err)

	var transportErr *entity.TransportError
	assert.True(t, errors.As(err, &transportErr))

	_, err = repo.GetSnapshot(context.Background(), "order-6")
	assert.True(t, errors.As(err, &transportErr))
}

func TestRedisOrderStatusRepository_KeyLayout(t *testing.T) {
	repo, server := newRedisRepository(t)
	ctx := context.Background()
	order := newTestOrder("order-7")

	require.NoError(t, repo.PutSnapshot(ctx, order))
	require.NoError(t, repo.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, time.Now())))

	assert.True(t, server.Exists("order:order-7"))
	list, err := server.List("order:order-7:history")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
