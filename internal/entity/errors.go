package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderLocked   = errors.New("order is being processed by another worker")
)

// ValidationError rejects a malformed submission before any side effect.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error"
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}

	return "validation error: " + strings.Join(parts, ", ")
}

type VenueQuoteError struct {
	Venue string
	Err   error
}

func (e *VenueQuoteError) Error() string {
	return fmt.Sprintf("quote from %s failed: %v", e.Venue, e.Err)
}

func (e *VenueQuoteError) Unwrap() error {
	return e.Err
}

type SettlementError struct {
	Venue string
	Err   error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement on %s failed: %v", e.Venue, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// TransportError marks an infrastructure failure (store or queue unreachable).
// Unlike business failures it propagates to the queue and is retried.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order not found: %s", e.OrderID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrOrderNotFound
}

// IsBusinessFailure reports whether err ends an order in failed instead of
// being retried by the queue.
func IsBusinessFailure(err error) bool {
	var quoteErr *VenueQuoteError
	var settlementErr *SettlementError
	return errors.As(err, &quoteErr) || errors.As(err, &settlementErr)
}
