package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/order-execution-engine/internal/entity"
)

type memoryLock struct {
	owner     string
	expiresAt time.Time
}

// MemoryOrderStatusRepository is an in-process OrderStatusStore. Values are kept encoded
// so every read returns a fresh copy, as a remote store would.
type MemoryOrderStatusRepository struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	histories map[string][][]byte
	locks     map[string]memoryLock
	now       func() time.Time
}

func NewMemoryOrderStatusRepository() *MemoryOrderStatusRepository {
	return &MemoryOrderStatusRepository{
		snapshots: make(map[string][]byte),
		histories: make(map[string][][]byte),
		locks:     make(map[string]memoryLock),
		now:       time.Now,
	}
}

func (r *MemoryOrderStatusRepository) PutSnapshot(ctx context.Context, order *entity.Order) error {
	if err := ctx.Err(); err != nil {
		return entity.NewTransportError("put order snapshot", err)
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.snapshots[order.ID] = payload
	r.mu.Unlock()

	return nil
}

func (r *MemoryOrderStatusRepository) GetSnapshot(ctx context.Context, orderID string) (*entity.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.NewTransportError("get order snapshot", err)
	}

	r.mu.RLock()
	payload, ok := r.snapshots[orderID]
	r.mu.RUnlock()
	if !ok {
		return nil, &entity.NotFoundError{OrderID: orderID}
	}

	var order entity.Order
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("decode order snapshot %s: %w", orderID, err)
	}

	return &order, nil
}

func (r *MemoryOrderStatusRepository) AppendHistory(ctx context.Context, orderID string, entry entity.StatusHistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return entity.NewTransportError("append order history", err)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.histories[orderID] = append(r.histories[orderID], payload)
	r.mu.Unlock()

	return nil
}

func (r *MemoryOrderStatusRepository) GetHistory(ctx context.Context, orderID string, fromIndex int64) ([]entity.StatusHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.NewTransportError("get order history", err)
	}

	if fromIndex < 0 {
		fromIndex = 0
	}

	r.mu.RLock()
	history := r.histories[orderID]
	if fromIndex > int64(len(history)) {
		fromIndex = int64(len(history))
	}
	raw := make([][]byte, len(history)-int(fromIndex))
	copy(raw, history[fromIndex:])
	r.mu.RUnlock()

	entries := make([]entity.StatusHistoryEntry, 0, len(raw))
	for _, payload := range raw {
		var entry entity.StatusHistoryEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode order history %s: %w", orderID, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (r *MemoryOrderStatusRepository) HistoryLength(ctx context.Context, orderID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, entity.NewTransportError("get order history length", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.histories[orderID])), nil
}

func (r *MemoryOrderStatusRepository) AcquireProcessingLock(ctx context.Context, orderID string, ttl time.Duration, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, entity.NewTransportError("acquire order processing lock", err)
	}

	if ttl <= 0 {
		ttl = defaultProcessingLockTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if lock, ok := r.locks[orderID]; ok && now.Before(lock.expiresAt) {
		return false, nil
	}

	r.locks[orderID] = memoryLock{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

func (r *MemoryOrderStatusRepository) ReleaseProcessingLock(ctx context.Context, orderID string, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, ok := r.locks[orderID]; ok && lock.owner == owner {
		delete(r.locks, orderID)
	}

	return nil
}
