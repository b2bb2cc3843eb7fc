package venue

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceBook holds nominal prices quoted as units of tokenOut per unit of tokenIn.
type PriceBook struct {
	prices       map[string]decimal.Decimal
	defaultPrice decimal.Decimal
}

func NewPriceBook(basePrices map[string]decimal.Decimal, defaultPrice decimal.Decimal) *PriceBook {
	prices := make(map[string]decimal.Decimal, len(basePrices))
	for pair, price := range basePrices {
		if price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		prices[strings.ToUpper(strings.TrimSpace(pair))] = price
	}

	if defaultPrice.LessThanOrEqual(decimal.Zero) {
		defaultPrice = decimal.NewFromInt(1)
	}

	return &PriceBook{prices: prices, defaultPrice: defaultPrice}
}

// BasePrice looks up the pair, then the inverse of the reversed pair, then falls back to the default.
func (b *PriceBook) BasePrice(tokenIn, tokenOut string) decimal.Decimal {
	if price, ok := b.prices[pairKey(tokenIn, tokenOut)]; ok {
		return price
	}

	if price, ok := b.prices[pairKey(tokenOut, tokenIn)]; ok {
		return decimal.NewFromInt(1).DivRound(price, 12)
	}

	return b.defaultPrice
}

func pairKey(tokenIn, tokenOut string) string {
	return fmt.Sprintf("%s/%s", strings.ToUpper(strings.TrimSpace(tokenIn)), strings.ToUpper(strings.TrimSpace(tokenOut)))
}
