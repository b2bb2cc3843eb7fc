package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
)

type Order struct {
	ID              string           `json:"orderId"`
	Type            OrderType        `json:"type"`
	TokenIn         string           `json:"tokenIn"`
	TokenOut        string           `json:"tokenOut"`
	Amount          decimal.Decimal  `json:"amount"`
	Status          OrderStatus      `json:"status"`
	SelectedVenue   string           `json:"selectedVenue,omitempty"`
	RoutingDecision *RoutingDecision `json:"routingDecision,omitempty"`
	SettlementRef   string           `json:"settlementRef,omitempty"`
	ExecutedPrice   *decimal.Decimal `json:"executedPrice,omitempty"`
	Slippage        *decimal.Decimal `json:"slippage,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs,omitempty"`
	ErrorDetail     string           `json:"errorDetail,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// SubmitOrderRequest is the client payload of a market order submission.
type SubmitOrderRequest struct {
	Type     OrderType       `json:"type" validate:"omitempty,oneof=market"`
	TokenIn  string          `json:"tokenIn" validate:"required,max=32"`
	TokenOut string          `json:"tokenOut" validate:"required,max=32,nefield=TokenIn"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
}

type Quote struct {
	Venue     string          `json:"venue"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Slippage  decimal.Decimal `json:"slippage"`
}

// VenueComparison is one venue's line in a routing decision.
type VenueComparison struct {
	Venue          string          `json:"venue"`
	Price          decimal.Decimal `json:"price"`
	Fee            decimal.Decimal `json:"fee"`
	EffectivePrice decimal.Decimal `json:"effectivePrice"`
	Output         decimal.Decimal `json:"output"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	Slippage       decimal.Decimal `json:"slippage"`
}

type RoutingDecision struct {
	Venues                 []VenueComparison `json:"venues"`
	Selected               string            `json:"selected"`
	Reason                 string            `json:"reason"`
	PriceDifferencePercent decimal.Decimal   `json:"priceDifferencePercent"`
	DecidedAt              time.Time         `json:"decidedAt"`
}

// Comparison returns the line of the given venue.
func (d *RoutingDecision) Comparison(venue string) (VenueComparison, bool) {
	if d == nil {
		return VenueComparison{}, false
	}

	for _, v := range d.Venues {
		if v.Venue == venue {
			return v, true
		}
	}

	return VenueComparison{}, false
}

type RoutingResult struct {
	Decision RoutingDecision
	Quote    Quote
}

type ExecutionResult struct {
	Venue         string
	SettlementRef string
	ExecutedPrice decimal.Decimal
	Slippage      decimal.Decimal
	ElapsedTime   time.Duration
}

type StatusHistoryEntry struct {
	OrderID       string           `json:"orderId"`
	Status        OrderStatus      `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	SelectedVenue string           `json:"selectedVenue,omitempty"`
	SettlementRef string           `json:"settlementRef,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	ErrorDetail   string           `json:"errorDetail,omitempty"`
}

// NewStatusHistoryEntry captures the fields of order known at the moment of the transition.
func NewStatusHistoryEntry(order *Order, at time.Time) StatusHistoryEntry {
	entry := StatusHistoryEntry{
		OrderID:       order.ID,
		Status:        order.Status,
		Timestamp:     at,
		SelectedVenue: order.SelectedVenue,
		SettlementRef: order.SettlementRef,
		ErrorDetail:   order.ErrorDetail,
	}

	if order.ExecutedPrice != nil {
		price := *order.ExecutedPrice
		entry.ExecutedPrice = &price
	}

	return entry
}

// StatusView is what pull observers return.
type StatusView struct {
	Order         *Order               `json:"order"`
	History       []StatusHistoryEntry `json:"history,omitempty"`
	HistoryLength int64                `json:"historyLength"`
}
