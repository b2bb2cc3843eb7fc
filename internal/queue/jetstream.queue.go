package queue

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/order-execution-engine/internal/constant"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	jetstreamQueueLabel = "jetstream"
	ackWaitMargin       = 30 * time.Second
)

type JetstreamQueueConfig struct {
	Concurrency    int
	MaxAttempts    int
	MaxBackoff     time.Duration
	HandlerTimeout time.Duration
}

// JetstreamQueue is a durable work queue on a JetStream stream with WorkQueuePolicy
// retention. Retries are redeliveries driven by NakWithDelay.
type JetstreamQueue struct {
	js             nats.JetStreamContext
	concurrency    int
	maxAttempts    int
	maxBackoff     time.Duration
	handlerTimeout time.Duration
	ackWait        time.Duration
}

func NewJetstreamQueue(js nats.JetStreamContext, cfg JetstreamQueueConfig) *JetstreamQueue {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	return &JetstreamQueue{
		js:             js,
		concurrency:    max(cfg.Concurrency, 1),
		maxAttempts:    maxAttempts,
		maxBackoff:     maxBackoff,
		handlerTimeout: cfg.HandlerTimeout,
		ackWait:        cfg.HandlerTimeout + ackWaitMargin,
	}
}

func (q *JetstreamQueue) JetstreamEventInit(ctx context.Context) error {
	streamConfig := &nats.StreamConfig{
		Name:       constant.OrderEngineStreamName,
		Subjects:   []string{constant.OrderEngineStreamSubjectAll},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	}

	stream, err := q.js.StreamInfo(constant.OrderEngineStreamName, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		logrus.Error(err)
		return err
	}

	if stream == nil {
		logrus.Infof("creating stream: %s", constant.OrderEngineStreamName)
		_, err = q.js.AddStream(streamConfig, nats.Context(ctx))
		return err
	}

	logrus.Infof("updating stream: %s", constant.OrderEngineStreamName)
	_, err = q.js.UpdateStream(streamConfig, nats.Context(ctx))
	if err != nil {
		logrus.Error(err)
		return err
	}

	return nil
}

// Enqueue publishes job with its id as the message id, so a duplicate submission
// inside the stream's duplicate window is dropped by the server.
func (q *JetstreamQueue) Enqueue(ctx context.Context, job entity.Job) error {
	err := util.PublishEvent(ctx, q.js, constant.OrderEngineStreamSubjectExecuteOrder, job, nats.MsgId(job.ID))
	if err != nil {
		return entity.NewTransportError("publish job", err)
	}

	return nil
}

// Consume subscribes the durable queue group and blocks until ctx is done.
func (q *JetstreamQueue) Consume(ctx context.Context, handler entity.JobHandler) error {
	sem := make(chan struct{}, q.concurrency)

	sub, err := q.js.QueueSubscribe(
		constant.OrderEngineStreamSubjectExecuteOrder,
		constant.OrderEngineQueueName,
		func(msg *nats.Msg) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func() {
				defer func() { <-sem }()
				q.handleMsg(ctx, msg, handler)
			}()
		},
		nats.ManualAck(),
		nats.Durable(constant.OrderEngineQueueGroup),
		nats.MaxDeliver(q.maxAttempts),
		nats.AckWait(q.ackWait),
		nats.MaxAckPending(q.concurrency),
	)
	if err != nil {
		return err
	}

	<-ctx.Done()

	// wait for in-flight handlers
	for i := 0; i < q.concurrency; i++ {
		sem <- struct{}{}
	}

	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		logrus.WithError(err).Warn("failed to unsubscribe order engine queue")
	}

	return nil
}

func (q *JetstreamQueue) handleMsg(ctx context.Context, msg *nats.Msg, handler entity.JobHandler) {
	var job entity.Job
	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		logrus.WithError(err).WithField("data", string(msg.Data)).Error("malformed job, dropping")
		if err := msg.Term(); err != nil {
			logrus.Errorf("failed to terminate message: %v", err)
		}
		metrics.JobsProcessed.WithLabelValues(jetstreamQueueLabel, outcomeDeadLetter).Inc()
		return
	}

	job.Attempt = 1
	if meta, err := msg.Metadata(); err == nil {
		job.Attempt = int(meta.NumDelivered)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}

	logger := logrus.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"attempt": job.Attempt,
	})

	err = util.ProcessWithTimeout(ctx, q.handlerTimeout, job, handler)
	action := resolveDelivery(err, job.Attempt, job.MaxAttempts)
	metrics.JobsProcessed.WithLabelValues(jetstreamQueueLabel, action.outcome()).Inc()

	switch action {
	case actionAck:
		err = msg.Ack()
	case actionRetry:
		delay := util.ExponentialBackoff(job.Attempt, backoffOf(job), q.maxBackoff)
		logger.WithError(err).WithField("delay", delay).Warn("job failed, retrying")
		err = msg.NakWithDelay(delay)
	case actionTerm:
		logger.WithError(err).WithField("error_kind", util.ErrorKind(err)).Error("job failed, giving up")
		err = msg.Term()
	}
	if err != nil {
		logger.Errorf("failed to acknowledge message: %v", err)
	}
}
