package entity

import (
	"context"
	"time"
)

// OrderStatusStore is the single source of truth shared by the coordinator (writer)
// and every observer (readers). All operations are keyed by order id only.
type OrderStatusStore interface {
	// PutSnapshot overwrites the latest snapshot of the order.
	PutSnapshot(ctx context.Context, order *Order) error
	// GetSnapshot returns a *NotFoundError when the order has no snapshot.
	GetSnapshot(ctx context.Context, orderID string) (*Order, error)
	AppendHistory(ctx context.Context, orderID string, entry StatusHistoryEntry) error
	// GetHistory returns the entries from fromIndex to the current end.
	GetHistory(ctx context.Context, orderID string, fromIndex int64) ([]StatusHistoryEntry, error)
	HistoryLength(ctx context.Context, orderID string) (int64, error)

	AcquireProcessingLock(ctx context.Context, orderID string, ttl time.Duration, owner string) (bool, error)
	ReleaseProcessingLock(ctx context.Context, orderID string, owner string) error
}
