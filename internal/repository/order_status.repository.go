package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/order-execution-engine/internal/constant"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/redis/go-redis/v9"
)

const defaultProcessingLockTTL = 15 * time.Second

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisOrderStatusRepository keeps the latest snapshot of an order under order:{id}
// and its transitions in the list order:{id}:history.
type RedisOrderStatusRepository struct {
	client redis.UniversalClient
}

func NewRedisOrderStatusRepository(client redis.UniversalClient) *RedisOrderStatusRepository {
	return &RedisOrderStatusRepository{client: client}
}

func (r *RedisOrderStatusRepository) PutSnapshot(ctx context.Context, order *entity.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}

	err = r.client.Set(ctx, snapshotKey(order.ID), payload, 0).Err()
	if err != nil {
		return entity.NewTransportError("put order snapshot", err)
	}

	return nil
}

func (r *RedisOrderStatusRepository) GetSnapshot(ctx context.Context, orderID string) (*entity.Order, error) {
	raw, err := r.client.Get(ctx, snapshotKey(orderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &entity.NotFoundError{OrderID: orderID}
		}
		return nil, entity.NewTransportError("get order snapshot", err)
	}

	var order entity.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order snapshot %s: %w", orderID, err)
	}

	return &order, nil
}

func (r *RedisOrderStatusRepository) AppendHistory(ctx context.Context, orderID string, entry entity.StatusHistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	err = r.client.RPush(ctx, historyKey(orderID), payload).Err()
	if err != nil {
		return entity.NewTransportError("append order history", err)
	}

	return nil
}

func (r *RedisOrderStatusRepository) GetHistory(ctx context.Context, orderID string, fromIndex int64) ([]entity.StatusHistoryEntry, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}

	rawEntries, err := r.client.LRange(ctx, historyKey(orderID), fromIndex, -1).Result()
	if err != nil {
		return nil, entity.NewTransportError("get order history", err)
	}

	entries := make([]entity.StatusHistoryEntry, 0, len(rawEntries))
	for _, raw := range rawEntries {
		var entry entity.StatusHistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode order history %s: %w", orderID, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (r *RedisOrderStatusRepository) HistoryLength(ctx context.Context, orderID string) (int64, error) {
	length, err := r.client.LLen(ctx, historyKey(orderID)).Result()
	if err != nil {
		return 0, entity.NewTransportError("get order history length", err)
	}

	return length, nil
}

func (r *RedisOrderStatusRepository) AcquireProcessingLock(ctx context.Context, orderID string, ttl time.Duration, owner string) (bool, error) {
	if ttl <= 0 {
		ttl = defaultProcessingLockTTL
	}

	acquired, err := r.client.SetNX(ctx, processingLockKey(orderID), owner, ttl).Result()
	if err != nil {
		return false, entity.NewTransportError("acquire order processing lock", err)
	}

	return acquired, nil
}

func (r *RedisOrderStatusRepository) ReleaseProcessingLock(ctx context.Context, orderID string, owner string) error {
	_, err := releaseLockScript.Run(ctx, r.client, []string{processingLockKey(orderID)}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return entity.NewTransportError("release order processing lock", err)
	}

	return nil
}

func (r *RedisOrderStatusRepository) Close() error {
	return r.client.Close()
}

func snapshotKey(orderID string) string {
	return fmt.Sprintf("%s:%s", constant.OrderSnapshotKeyPrefix, orderID)
}

func historyKey(orderID string) string {
	return fmt.Sprintf("%s:%s", snapshotKey(orderID), constant.OrderHistoryKeySuffix)
}

func processingLockKey(orderID string) string {
	return fmt.Sprintf("%s:%s", snapshotKey(orderID), constant.OrderLockKeySuffix)
}
