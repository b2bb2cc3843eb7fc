package orderengine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrEnqueueOrderFailed = errors.New("failed to enqueue order")
)

type OrderEngineService struct {
	store       entity.OrderStatusStore
	queue       entity.JobQueue
	validate    *validator.Validate
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewOrderEngineService(store entity.OrderStatusStore, queue entity.JobQueue, maxAttempts int, backoff time.Duration) *OrderEngineService {
	return &OrderEngineService{
		store:       store,
		queue:       queue,
		validate:    newValidator(),
		maxAttempts: maxAttempts,
		backoff:     backoff,
		now:         time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return v
}

// SubmitOrder validates req, stores the pending snapshot and enqueues the order.
// A rejected request has no side effects.
func (e *OrderEngineService) SubmitOrder(ctx context.Context, req entity.SubmitOrderRequest) (*entity.Order, error) {
	req.TokenIn = strings.ToUpper(strings.TrimSpace(req.TokenIn))
	req.TokenOut = strings.ToUpper(strings.TrimSpace(req.TokenOut))
	if req.Type == "" {
		req.Type = entity.OrderTypeMarket
	}

	if err := e.validateRequest(req); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	order := &entity.Order{
		ID:        uuid.NewString(),
		Type:      req.Type,
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		Amount:    req.Amount,
		Status:    entity.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	logger := logrus.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"token_in":  order.TokenIn,
		"token_out": order.TokenOut,
		"amount":    order.Amount.String(),
	})

	err := e.store.PutSnapshot(ctx, order)
	if err != nil {
		logger.WithError(err).Error("failed to store pending order")
		return nil, err
	}

	err = e.queue.Enqueue(ctx, entity.NewJob(*order, e.maxAttempts, e.backoff))
	if err != nil {
		logger.WithError(err).Error(ErrEnqueueOrderFailed)
		e.markNotEnqueued(ctx, order, err)
		return nil, entity.NewTransportError("enqueue order", err)
	}

	metrics.OrdersSubmitted.Inc()
	logger.Info("order submitted")

	return order, nil
}

// markNotEnqueued fails an order whose job never reached the queue so observers do not
// wait on it forever.
func (e *OrderEngineService) markNotEnqueued(ctx context.Context, order *entity.Order, cause error) {
	failed := *order
	failed.Status = entity.OrderStatusFailed
	failed.ErrorDetail = ErrEnqueueOrderFailed.Error() + ": " + cause.Error()
	failed.UpdatedAt = e.now().UTC()

	err := e.store.PutSnapshot(context.WithoutCancel(ctx), &failed)
	if err != nil {
		logrus.WithField("order_id", order.ID).WithError(err).Error("failed to mark order as failed")
	}
}

func (e *OrderEngineService) validateRequest(req entity.SubmitOrderRequest) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &entity.ValidationError{Fields: map[string]string{"request": err.Error()}}
	}

	fields := make(map[string]string, len(validationErrs))
	for _, fe := range validationErrs {
		fields[fe.Field()] = fe.Tag()
	}

	return &entity.ValidationError{Fields: fields}
}
