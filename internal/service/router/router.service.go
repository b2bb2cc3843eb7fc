package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoVenues = errors.New("no venues configured")
)

var hundred = decimal.NewFromInt(100)

type RouterService struct {
	providers []entity.QuoteProvider
	now       func() time.Time
}

func NewRouterService(providers []entity.QuoteProvider) *RouterService {
	return &RouterService{
		providers: providers,
		now:       time.Now,
	}
}

// SelectBestVenue quotes every venue concurrently and picks the one with the greatest
// output after fees. Any failed quote fails the whole decision, and so does an empty
// venue set.
func (s *RouterService) SelectBestVenue(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*entity.RoutingResult, error) {
	if len(s.providers) == 0 {
		return nil, &entity.VenueQuoteError{Venue: "router", Err: ErrNoVenues}
	}

	quotes := make([]*entity.Quote, len(s.providers))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, provider := range s.providers {
		eg.Go(func() error {
			quote, err := provider.GetQuote(egCtx, tokenIn, tokenOut, amount)
			if err != nil {
				return &entity.VenueQuoteError{Venue: provider.Venue(), Err: err}
			}
			if quote == nil {
				return &entity.VenueQuoteError{Venue: provider.Venue(), Err: errors.New("empty quote")}
			}

			quote.Venue = provider.Venue()
			quotes[i] = quote
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		// the caller went away, this is not a venue failure
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	decision, winner := s.decide(amount, quotes)

	metrics.VenueSelected.WithLabelValues(decision.Selected).Inc()
	logrus.WithFields(logrus.Fields{
		"token_in":                 tokenIn,
		"token_out":                tokenOut,
		"amount":                   amount.String(),
		"selected":                 decision.Selected,
		"price_difference_percent": decision.PriceDifferencePercent.String(),
	}).Info("venue selected")

	return &entity.RoutingResult{
		Decision: decision,
		Quote:    *winner,
	}, nil
}

func (s *RouterService) decide(amount decimal.Decimal, quotes []*entity.Quote) (entity.RoutingDecision, *entity.Quote) {
	comparisons := make([]entity.VenueComparison, 0, len(quotes))
	for _, quote := range quotes {
		comparisons = append(comparisons, compare(amount, quote))
	}

	// MaxBy keeps the first of equal elements, so ties go to the first configured venue
	best := lo.MaxBy(comparisons, func(a, b entity.VenueComparison) bool {
		return a.Output.GreaterThan(b.Output)
	})

	var winner *entity.Quote
	for _, quote := range quotes {
		if quote.Venue == best.Venue {
			winner = quote
			break
		}
	}

	runnerUp, hasRunnerUp := runnerUpOf(comparisons, best.Venue)

	priceDifference := decimal.Zero
	if hasRunnerUp && best.Output.GreaterThan(decimal.Zero) {
		priceDifference = best.Output.Sub(runnerUp.Output).Abs().Div(best.Output).Mul(hundred).Round(4)
	}

	return entity.RoutingDecision{
		Venues:                 comparisons,
		Selected:               best.Venue,
		Reason:                 reason(best, runnerUp, hasRunnerUp, priceDifference),
		PriceDifferencePercent: priceDifference,
		DecidedAt:              s.now().UTC(),
	}, winner
}

func compare(amount decimal.Decimal, quote *entity.Quote) entity.VenueComparison {
	effectivePrice := quote.Price.Mul(decimal.NewFromInt(1).Sub(quote.Fee))

	return entity.VenueComparison{
		Venue:          quote.Venue,
		Price:          quote.Price,
		Fee:            quote.Fee,
		EffectivePrice: effectivePrice,
		Output:         amount.Mul(effectivePrice),
		Liquidity:      quote.Liquidity,
		Slippage:       quote.Slippage,
	}
}

func runnerUpOf(comparisons []entity.VenueComparison, selected string) (entity.VenueComparison, bool) {
	others := lo.Filter(comparisons, func(c entity.VenueComparison, _ int) bool {
		return c.Venue != selected
	})
	if len(others) == 0 {
		return entity.VenueComparison{}, false
	}

	return lo.MaxBy(others, func(a, b entity.VenueComparison) bool {
		return a.Output.GreaterThan(b.Output)
	}), true
}

func reason(best, runnerUp entity.VenueComparison, hasRunnerUp bool, difference decimal.Decimal) string {
	if !hasRunnerUp {
		return fmt.Sprintf("%s is the only venue quoted, output %s", best.Venue, best.Output.StringFixed(6))
	}

	if best.Output.Equal(runnerUp.Output) {
		return fmt.Sprintf("%s and %s tie at output %s, %s is listed first",
			best.Venue, runnerUp.Venue, best.Output.StringFixed(6), best.Venue)
	}

	return fmt.Sprintf("%s output %s beats %s output %s by %s%%",
		best.Venue, best.Output.StringFixed(6), runnerUp.Venue, runnerUp.Output.StringFixed(6), difference.StringFixed(2))
}
