package entity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusPending, true},
		{OrderStatusPending, OrderStatusRouting, true},
		{OrderStatusRouting, OrderStatusBuilding, true},
		{OrderStatusBuilding, OrderStatusSubmitted, true},
		{OrderStatusSubmitted, OrderStatusConfirmed, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusRouting, OrderStatusFailed, true},
		{OrderStatusSubmitted, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusBuilding, false},
		{OrderStatusRouting, OrderStatusRouting, false},
		{OrderStatusSubmitted, OrderStatusRouting, false},
		{OrderStatusConfirmed, OrderStatusFailed, false},
		{OrderStatusFailed, OrderStatusPending, false},
		{OrderStatus("unknown"), OrderStatusRouting, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMissingTransitions(t *testing.T) {
	assert.Equal(t,
		[]OrderStatus{OrderStatusSubmitted, OrderStatusConfirmed},
		MissingTransitions([]OrderStatus{OrderStatusPending, OrderStatusRouting, OrderStatusBuilding}, OrderStatusConfirmed),
	)
	assert.Equal(t,
		OrderLifecycle,
		MissingTransitions(nil, OrderStatusConfirmed),
	)
	assert.Equal(t,
		[]OrderStatus{OrderStatusFailed},
		MissingTransitions([]OrderStatus{OrderStatusPending, OrderStatusRouting}, OrderStatusFailed),
	)
	assert.Empty(t, MissingTransitions([]OrderStatus{OrderStatusPending, OrderStatusFailed}, OrderStatusFailed))
	assert.Empty(t, MissingTransitions(OrderLifecycle, OrderStatusConfirmed))

	assert.Equal(t,
		[]OrderStatus{OrderStatusRouting},
		MissingTransitions([]OrderStatus{OrderStatusPending}, OrderStatusRouting),
	)
	assert.Equal(t,
		[]OrderStatus{OrderStatusPending, OrderStatusRouting, OrderStatusBuilding},
		MissingTransitions(nil, OrderStatusBuilding),
	)
	assert.Empty(t, MissingTransitions([]OrderStatus{OrderStatusPending}, OrderStatusPending))
	assert.Empty(t, MissingTransitions([]OrderStatus{OrderStatusPending, OrderStatusRouting}, OrderStatusPending))
}

func TestErrors(t *testing.T) {
	notFound := fmt.Errorf("lookup: %w", &NotFoundError{OrderID: "abc"})
	require.True(t, errors.Is(notFound, ErrOrderNotFound))

	assert.True(t, IsBusinessFailure(&VenueQuoteError{Venue: "raydium", Err: errors.New("timeout")}))
	assert.True(t, IsBusinessFailure(fmt.Errorf("wrapped: %w", &SettlementError{Venue: "meteora", Err: errors.New("reverted")})))
	assert.False(t, IsBusinessFailure(NewTransportError("put snapshot", errors.New("connection refused"))))

	validationErr := &ValidationError{Fields: map[string]string{"tokenIn": "required", "amount": "gt"}}
	assert.Equal(t, "validation error: amount: gt, tokenIn: required", validationErr.Error())
}
