package observer

import (
	"context"
	"errors"
	"time"

	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/sirupsen/logrus"
)

type StreamMessageType string

const (
	MessageConnected      StreamMessageType = "connected"
	MessageHistory        StreamMessageType = "history"
	MessageSnapshot       StreamMessageType = "snapshot"
	MessageLoopCycleStart StreamMessageType = "loop_cycle_start"
	MessageError          StreamMessageType = "error"
)

const (
	defaultStreamPollInterval = time.Second
	defaultStreamGraceDelay   = 500 * time.Millisecond
)

var (
	ErrLoopWithoutSubmitter = errors.New("loop mode needs an order submitter")
)

type StreamMessage struct {
	Type            StreamMessageType           `json:"type"`
	OrderID         string                      `json:"orderId"`
	Entries         []entity.StatusHistoryEntry `json:"entries,omitempty"`
	Order           *entity.Order               `json:"order,omitempty"`
	PreviousOrderID string                      `json:"previousOrderId,omitempty"`
	Cycle           int                         `json:"cycle,omitempty"`
	Error           string                      `json:"error,omitempty"`
	Timestamp       time.Time                   `json:"timestamp"`
}

type StreamOptions struct {
	// Loop resubmits a clone of the order each time it reaches a terminal status.
	Loop bool
}

// SendFunc delivers one message to the subscriber. An error ends the stream.
type SendFunc func(StreamMessage) error

type StatusStreamService struct {
	store        entity.OrderStatusStore
	submitter    entity.OrderSubmitter
	pollInterval time.Duration
	graceDelay   time.Duration
	now          func() time.Time
}

func NewStatusStreamService(store entity.OrderStatusStore, submitter entity.OrderSubmitter, pollInterval, graceDelay time.Duration) *StatusStreamService {
	if pollInterval <= 0 {
		pollInterval = defaultStreamPollInterval
	}
	if graceDelay < 0 {
		graceDelay = defaultStreamGraceDelay
	}

	return &StatusStreamService{
		store:        store,
		submitter:    submitter,
		pollInterval: pollInterval,
		graceDelay:   graceDelay,
		now:          time.Now,
	}
}

// streamCursor tracks one subscription's position in an order's history.
type streamCursor struct {
	orderID string
	next    int64
	cycle   int
}

// Stream pushes the lifecycle of orderID to send until the order is terminal (or, in
// loop mode, until ctx is done). A subscriber leaving only cancels ctx; the order keeps running.
func (s *StatusStreamService) Stream(ctx context.Context, orderID string, opts StreamOptions, send SendFunc) error {
	if opts.Loop && s.submitter == nil {
		return ErrLoopWithoutSubmitter
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	logger := logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"loop":     opts.Loop,
	})

	if _, err := s.store.GetSnapshot(ctx, orderID); err != nil {
		_ = send(s.message(MessageError, orderID, func(m *StreamMessage) { m.Error = err.Error() }))
		return err
	}

	if err := send(s.message(MessageConnected, orderID, nil)); err != nil {
		return err
	}

	cursor := &streamCursor{orderID: orderID}
	entries, err := s.store.GetHistory(ctx, orderID, 0)
	if err != nil {
		return err
	}
	cursor.next = int64(len(entries))
	err = send(s.message(MessageHistory, orderID, func(m *StreamMessage) { m.Entries = entries }))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("subscriber left")
			return nil
		case <-ticker.C:
		}

		order, err := s.drain(ctx, cursor, send)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if sendErr := s.sendError(cursor.orderID, err, send); sendErr != nil {
				return sendErr
			}
			logger.WithError(err).Warn("failed to read order status")
			continue
		}

		if !order.Status.IsTerminal() {
			continue
		}

		// the terminal history entry lands after the terminal snapshot
		if err := sleepCtx(ctx, s.graceDelay); err != nil {
			return nil
		}
		if _, err := s.drain(ctx, cursor, send); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !opts.Loop {
			logger.WithField("status", order.Status).Info("stream completed")
			return nil
		}

		if err := s.nextCycle(ctx, cursor, order, send); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// drain sends the entries after the cursor followed by the current snapshot. History is
// read before the snapshot.
func (s *StatusStreamService) drain(ctx context.Context, cursor *streamCursor, send SendFunc) (*entity.Order, error) {
	entries, err := s.store.GetHistory(ctx, cursor.orderID, cursor.next)
	if err != nil {
		return nil, err
	}

	order, err := s.store.GetSnapshot(ctx, cursor.orderID)
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return order, nil
	}

	cursor.next += int64(len(entries))
	err = send(s.message(MessageHistory, cursor.orderID, func(m *StreamMessage) { m.Entries = entries }))
	if err != nil {
		return nil, err
	}

	err = send(s.message(MessageSnapshot, cursor.orderID, func(m *StreamMessage) { m.Order = order }))
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (s *StatusStreamService) nextCycle(ctx context.Context, cursor *streamCursor, finished *entity.Order, send SendFunc) error {
	next, err := s.submitter.SubmitOrder(ctx, entity.SubmitOrderRequest{
		Type:     finished.Type,
		TokenIn:  finished.TokenIn,
		TokenOut: finished.TokenOut,
		Amount:   finished.Amount,
	})
	if err != nil {
		return err
	}

	previous := cursor.orderID
	cursor.cycle++
	cursor.orderID = next.ID
	cursor.next = 0

	logrus.WithFields(logrus.Fields{
		"previous_order_id": previous,
		"order_id":          next.ID,
		"cycle":             cursor.cycle,
	}).Info("loop cycle started")

	return send(s.message(MessageLoopCycleStart, next.ID, func(m *StreamMessage) {
		m.PreviousOrderID = previous
		m.Cycle = cursor.cycle
	}))
}

func (s *StatusStreamService) sendError(orderID string, err error, send SendFunc) error {
	return send(s.message(MessageError, orderID, func(m *StreamMessage) { m.Error = err.Error() }))
}

func (s *StatusStreamService) message(kind StreamMessageType, orderID string, fill func(*StreamMessage)) StreamMessage {
	msg := StreamMessage{
		Type:      kind,
		OrderID:   orderID,
		Timestamp: s.now().UTC(),
	}
	if fill != nil {
		fill(&msg)
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
