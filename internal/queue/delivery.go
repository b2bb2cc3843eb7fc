package queue

import (
	"errors"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
)

const (
	outcomeAck        = "ack"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionRetry
	actionTerm
)

func (a deliveryAction) outcome() string {
	switch a {
	case actionRetry:
		return outcomeRetry
	case actionTerm:
		return outcomeDeadLetter
	default:
		return outcomeAck
	}
}

// resolveDelivery decides what happens to a delivery once the handler returned err.
// attempt is 1-based.
func resolveDelivery(err error, attempt, maxAttempts int) deliveryAction {
	if err == nil {
		return actionAck
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if attempt >= maxAttempts {
		return actionTerm
	}

	return actionRetry
}
