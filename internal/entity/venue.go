package entity

import (
	"context"

	"github.com/shopspring/decimal"
)

type QuoteProvider interface {
	Venue() string
	GetQuote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*Quote, error)
}

type Router interface {
	SelectBestVenue(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*RoutingResult, error)
}

type Executor interface {
	Execute(ctx context.Context, venue string, order Order) (*ExecutionResult, error)
}

// OrderSubmitter is the submission path, used by observers that resubmit in loop mode.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*Order, error)
}
