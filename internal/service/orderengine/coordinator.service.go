package orderengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/sirupsen/logrus"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
)

const defaultProcessingLockTTL = 2 * time.Minute

// Coordinator drives one order per job through pending, routing, building, submitted
// and a terminal status, persisting every transition to the status store.
type Coordinator struct {
	store    entity.OrderStatusStore
	router   entity.Router
	executor entity.Executor

	lockTTL          time.Duration
	buildingDelayMin time.Duration
	buildingDelayMax time.Duration
	now              func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewCoordinator(store entity.OrderStatusStore, router entity.Router, executor entity.Executor, cfg config.OrderEngineConfig) *Coordinator {
	lockTTL := cfg.ProcessingLockTTL
	if lockTTL <= 0 {
		lockTTL = defaultProcessingLockTTL
	}

	delayMin := max(cfg.BuildingDelayMin, 0)
	delayMax := max(cfg.BuildingDelayMax, delayMin)

	return &Coordinator{
		store:            store,
		router:           router,
		executor:         executor,
		lockTTL:          lockTTL,
		buildingDelayMin: delayMin,
		buildingDelayMax: delayMax,
		now:              time.Now,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// orderRun is the state of one delivery of a job.
type orderRun struct {
	order    *entity.Order
	history  []entity.OrderStatus
	recorded map[entity.OrderStatus]bool
	// persistErr is the first store failure of the run; once set, history is frozen.
	persistErr error
	logger     *logrus.Entry
}

// HandleJob is the queue handler. It returns nil when the order reached a terminal
// status (including business failures) and an error when the queue should retry.
func (c *Coordinator) HandleJob(ctx context.Context, job entity.Job) error {
	start := c.now()
	orderID := job.Order.ID
	logger := logrus.WithFields(logrus.Fields{
		"order_id": orderID,
		"job_id":   job.ID,
		"attempt":  job.Attempt,
	})

	owner := uuid.NewString()
	acquired, err := c.store.AcquireProcessingLock(ctx, orderID, c.lockTTL, owner)
	if err != nil {
		logger.WithError(err).WithField("error_kind", util.ErrorKind(err)).Error("failed to acquire processing lock")
		return err
	}
	if !acquired {
		logger.WithField("error_kind", util.ErrorKindTransport).Warn(entity.ErrOrderLocked)
		return entity.ErrOrderLocked
	}
	defer func() {
		err := c.store.ReleaseProcessingLock(context.WithoutCancel(ctx), orderID, owner)
		if err != nil {
			logger.WithError(err).Warn("failed to release processing lock")
		}
	}()

	run, err := c.load(ctx, job, logger)
	if err != nil {
		logger.WithError(err).WithField("error_kind", util.ErrorKind(err)).Error("failed to load order")
		return err
	}

	err = c.reconcile(ctx, run)
	if err == nil && !run.order.Status.IsTerminal() {
		err = c.advance(ctx, run)
	}

	metrics.JobDuration.WithLabelValues(string(run.order.Status)).Observe(c.now().Sub(start).Seconds())

	if err != nil {
		logger.WithError(err).WithField("error_kind", util.ErrorKind(err)).Error("order processing interrupted")
		return err
	}
	if run.persistErr != nil {
		return run.persistErr
	}

	return nil
}

func (c *Coordinator) load(ctx context.Context, job entity.Job, logger *logrus.Entry) (*orderRun, error) {
	order, err := c.store.GetSnapshot(ctx, job.Order.ID)
	switch {
	case errors.Is(err, entity.ErrOrderNotFound):
		fromJob := job.Order
		order = &fromJob
	case err != nil:
		return nil, err
	}

	history, err := c.store.GetHistory(ctx, order.ID, 0)
	if err != nil {
		return nil, err
	}

	statuses := make([]entity.OrderStatus, 0, len(history))
	recorded := make(map[entity.OrderStatus]bool, len(history))
	for _, entry := range history {
		statuses = append(statuses, entry.Status)
		recorded[entry.Status] = true
	}

	return &orderRun{
		order:    order,
		history:  statuses,
		recorded: recorded,
		logger:   logger.WithField("status", order.Status),
	}, nil
}

// reconcile appends the history a previous delivery persisted in the snapshot but
// never appended, up to and including the snapshot status. A terminal order is not
// run again afterwards.
func (c *Coordinator) reconcile(ctx context.Context, run *orderRun) error {
	appended := 0
	for _, status := range entity.MissingTransitions(run.history, run.order.Status) {
		if run.recorded[status] {
			continue
		}

		entry := historyEntryAt(run.order, status, c.now().UTC())
		err := c.store.AppendHistory(ctx, run.order.ID, entry)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("append_history").Inc()
			return err
		}
		run.recorded[status] = true
		run.history = append(run.history, status)
		appended++
		metrics.OrderTransitions.WithLabelValues(string(status)).Inc()
	}

	if appended > 0 || run.order.Status.IsTerminal() {
		run.logger.WithField("appended", appended).Info("order history reconciled")
	}
	return nil
}

// historyEntryAt rebuilds the entry of an earlier status from a later snapshot,
// keeping only the fields known at that point of the lifecycle.
func historyEntryAt(order *entity.Order, status entity.OrderStatus, at time.Time) entity.StatusHistoryEntry {
	entry := entity.NewStatusHistoryEntry(order, at)
	entry.Status = status

	if status != entity.OrderStatusConfirmed {
		entry.SettlementRef = ""
		entry.ExecutedPrice = nil
	}
	if status != entity.OrderStatusFailed {
		entry.ErrorDetail = ""
	}
	if status == entity.OrderStatusPending {
		entry.SelectedVenue = ""
	}

	return entry
}

func (c *Coordinator) advance(ctx context.Context, run *orderRun) error {
	order := run.order

	if order.Status == entity.OrderStatusPending {
		if err := c.transition(ctx, run, entity.OrderStatusPending); err != nil {
			return err
		}

		result, err := c.router.SelectBestVenue(ctx, order.TokenIn, order.TokenOut, order.Amount)
		if err != nil {
			return c.failOrReturn(ctx, run, err)
		}

		decision := result.Decision
		order.SelectedVenue = decision.Selected
		order.RoutingDecision = &decision
		if err := c.transition(ctx, run, entity.OrderStatusRouting); err != nil {
			return err
		}
	}

	if order.Status == entity.OrderStatusRouting {
		if err := c.sleep(ctx, c.buildingDelay()); err != nil {
			return err
		}
		if err := c.transition(ctx, run, entity.OrderStatusBuilding); err != nil {
			return err
		}
	}

	if order.Status == entity.OrderStatusBuilding {
		if err := c.transition(ctx, run, entity.OrderStatusSubmitted); err != nil {
			return err
		}
	}

	if order.Status != entity.OrderStatusSubmitted {
		return fmt.Errorf("%w: cannot execute order in %s", ErrIllegalTransition, order.Status)
	}

	result, err := c.executor.Execute(ctx, order.SelectedVenue, *order)
	if err != nil {
		return c.failOrReturn(ctx, run, err)
	}

	executedPrice := result.ExecutedPrice
	slippage := result.Slippage
	order.SettlementRef = result.SettlementRef
	order.ExecutedPrice = &executedPrice
	order.Slippage = &slippage
	order.ExecutionTimeMs = result.ElapsedTime.Milliseconds()

	return c.transition(ctx, run, entity.OrderStatusConfirmed)
}

// failOrReturn ends the order in failed for business failures and hands every other
// error back to the queue untouched.
func (c *Coordinator) failOrReturn(ctx context.Context, run *orderRun, cause error) error {
	if !entity.IsBusinessFailure(cause) {
		return cause
	}

	run.logger.WithError(cause).WithField("error_kind", util.ErrorKindBusiness).Warn("order failed")
	run.order.ErrorDetail = cause.Error()

	return c.transition(ctx, run, entity.OrderStatusFailed)
}

// transition moves the order to next and persists it, snapshot first.
// Store failures are recorded on run and do not stop the lifecycle.
func (c *Coordinator) transition(ctx context.Context, run *orderRun, next entity.OrderStatus) error {
	order := run.order
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, next)
	}

	now := c.now().UTC()
	order.Status = next
	order.UpdatedAt = now
	run.logger = run.logger.WithField("status", next)

	err := c.store.PutSnapshot(ctx, order)
	if err != nil {
		c.persistFailed(run, "put_snapshot", err)
		return nil
	}

	if run.persistErr != nil || run.recorded[next] {
		return nil
	}

	err = c.store.AppendHistory(ctx, order.ID, entity.NewStatusHistoryEntry(order, now))
	if err != nil {
		c.persistFailed(run, "append_history", err)
		return nil
	}

	run.recorded[next] = true
	metrics.OrderTransitions.WithLabelValues(string(next)).Inc()
	run.logger.Info("order status changed")

	return nil
}

func (c *Coordinator) persistFailed(run *orderRun, op string, err error) {
	var transportErr *entity.TransportError
	if !errors.As(err, &transportErr) {
		err = entity.NewTransportError(op, err)
	}

	metrics.StoreErrors.WithLabelValues(op).Inc()
	run.logger.WithError(err).WithField("error_kind", util.ErrorKindTransport).Error("failed to persist order status")

	if run.persistErr == nil {
		run.persistErr = err
	}
}

func (c *Coordinator) buildingDelay() time.Duration {
	spread := c.buildingDelayMax - c.buildingDelayMin
	if spread <= 0 {
		return c.buildingDelayMin
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildingDelayMin + time.Duration(c.rng.Int63n(int64(spread)+1))
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
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
