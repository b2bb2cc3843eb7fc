package observer

import (
	"context"
	"time"

	"github.com/krobus00/order-execution-engine/internal/entity"
)

const (
	MinPollInterval     = 100 * time.Millisecond
	MaxPollInterval     = 60 * time.Second
	DefaultPollInterval = time.Second
)

// StatusService answers pull observers. It never caches, every call reads the store.
type StatusService struct {
	store entity.OrderStatusStore
}

func NewStatusService(store entity.OrderStatusStore) *StatusService {
	return &StatusService{store: store}
}

// GetStatus reads the history length before the snapshot, so the length never counts
// an entry newer than the returned status.
func (s *StatusService) GetStatus(ctx context.Context, orderID string) (*entity.StatusView, error) {
	length, err := s.store.HistoryLength(ctx, orderID)
	if err != nil {
		return nil, err
	}

	order, err := s.store.GetSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &entity.StatusView{
		Order:         order,
		HistoryLength: length,
	}, nil
}

// GetStatusWithHistory reads the history before the snapshot, so the snapshot is never
// older than the last returned entry.
func (s *StatusService) GetStatusWithHistory(ctx context.Context, orderID string) (*entity.StatusView, error) {
	history, err := s.store.GetHistory(ctx, orderID, 0)
	if err != nil {
		return nil, err
	}

	order, err := s.store.GetSnapshot(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &entity.StatusView{
		Order:         order,
		History:       history,
		HistoryLength: int64(len(history)),
	}, nil
}

// GetHistory returns the entries from fromIndex and the cursor to pass next time.
func (s *StatusService) GetHistory(ctx context.Context, orderID string, fromIndex int64) ([]entity.StatusHistoryEntry, int64, error) {
	if _, err := s.store.GetSnapshot(ctx, orderID); err != nil {
		return nil, 0, err
	}

	fromIndex = max(fromIndex, 0)
	entries, err := s.store.GetHistory(ctx, orderID, fromIndex)
	if err != nil {
		return nil, 0, err
	}
	if len(entries) > 0 {
		return entries, fromIndex + int64(len(entries)), nil
	}

	length, err := s.store.HistoryLength(ctx, orderID)
	if err != nil {
		return nil, 0, err
	}

	return entries, min(length, fromIndex), nil
}

// Poll emits a view every interval until the order is terminal, emit fails or ctx is done.
func (s *StatusService) Poll(ctx context.Context, orderID string, interval time.Duration, withHistory bool, emit func(*entity.StatusView) error) error {
	interval = ClampPollInterval(interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var (
			view *entity.StatusView
			err  error
		)
		if withHistory {
			view, err = s.GetStatusWithHistory(ctx, orderID)
		} else {
			view, err = s.GetStatus(ctx, orderID)
		}
		if err != nil {
			return err
		}

		if err := emit(view); err != nil {
			return err
		}
		if view.Order.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func ClampPollInterval(interval time.Duration) time.Duration {
	switch {
	case interval <= 0:
		return DefaultPollInterval
	case interval < MinPollInterval:
		return MinPollInterval
	case interval > MaxPollInterval:
		return MaxPollInterval
	default:
		return interval
	}
}
