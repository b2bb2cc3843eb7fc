package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/krobus00/order-execution-engine/internal/metrics"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultQuoteTimeout  = 5 * time.Second
	maxSlippageEstimate  = 0.05
	quotePricePrecision  = 8
	quoteSlippageDecimal = 6
)

var (
	ErrQuoteTimeout    = errors.New("quote request timed out")
	ErrQuoteRejected   = errors.New("venue rejected quote request")
	ErrInvalidQuoteReq = errors.New("invalid quote request")
	ErrNoVenueConfigs  = errors.New("at least one venue must be configured")
)

type SimulatedVenueConfig struct {
	Name          string
	Fee           decimal.Decimal
	PriceVariance decimal.Decimal
	MinLatency    time.Duration
	MaxLatency    time.Duration
	Timeout       time.Duration
	MinLiquidity  decimal.Decimal
	MaxLiquidity  decimal.Decimal
	FailureRate   float64
}

// DefaultVenueConfigs are the two competing pools used when none are configured.
// meteora is cheaper but noisier than raydium.
func DefaultVenueConfigs() []SimulatedVenueConfig {
	return []SimulatedVenueConfig{
		{
			Name:          "raydium",
			Fee:           decimal.RequireFromString("0.003"),
			PriceVariance: decimal.RequireFromString("0.02"),
			MinLatency:    150 * time.Millisecond,
			MaxLatency:    250 * time.Millisecond,
			Timeout:       defaultQuoteTimeout,
			MinLiquidity:  decimal.NewFromInt(500_000),
			MaxLiquidity:  decimal.NewFromInt(2_000_000),
		},
		{
			Name:          "meteora",
			Fee:           decimal.RequireFromString("0.002"),
			PriceVariance: decimal.RequireFromString("0.03"),
			MinLatency:    150 * time.Millisecond,
			MaxLatency:    300 * time.Millisecond,
			Timeout:       defaultQuoteTimeout,
			MinLiquidity:  decimal.NewFromInt(300_000),
			MaxLiquidity:  decimal.NewFromInt(1_500_000),
		},
	}
}

func VenueConfigsFromEnv(venues []config.VenueConfig) []SimulatedVenueConfig {
	if len(venues) == 0 {
		return DefaultVenueConfigs()
	}

	configs := make([]SimulatedVenueConfig, 0, len(venues))
	for _, v := range venues {
		configs = append(configs, SimulatedVenueConfig{
			Name:          v.Name,
			Fee:           v.Fee,
			PriceVariance: v.PriceVariance,
			MinLatency:    v.MinLatency,
			MaxLatency:    v.MaxLatency,
			Timeout:       v.Timeout,
			MinLiquidity:  v.MinLiquidity,
			MaxLiquidity:  v.MaxLiquidity,
			FailureRate:   v.FailureRate,
		})
	}

	return configs
}

// SimulatedVenue synthesizes quotes around a nominal price instead of calling a live market.
type SimulatedVenue struct {
	config SimulatedVenueConfig
	prices *PriceBook

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedVenue(cfg SimulatedVenueConfig, prices *PriceBook, rng *rand.Rand) (*SimulatedVenue, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, errors.New("venue name is required")
	}
	if cfg.Fee.LessThan(decimal.Zero) || cfg.Fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("venue %s: fee must be in [0,1)", cfg.Name)
	}
	if cfg.PriceVariance.LessThan(decimal.Zero) || cfg.PriceVariance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("venue %s: price variance must be in [0,1)", cfg.Name)
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultQuoteTimeout
	}
	if cfg.MinLiquidity.LessThanOrEqual(decimal.Zero) {
		cfg.MinLiquidity = decimal.NewFromInt(100_000)
	}
	if cfg.MaxLiquidity.LessThan(cfg.MinLiquidity) {
		cfg.MaxLiquidity = cfg.MinLiquidity
	}
	if prices == nil {
		prices = NewPriceBook(nil, decimal.Zero)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &SimulatedVenue{
		config: cfg,
		prices: prices,
		rng:    rng,
	}, nil
}

func NewSimulatedVenues(configs []SimulatedVenueConfig, prices *PriceBook) ([]entity.QuoteProvider, error) {
	if len(configs) == 0 {
		return nil, ErrNoVenueConfigs
	}

	providers := make([]entity.QuoteProvider, 0, len(configs))
	seen := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		v, err := NewSimulatedVenue(cfg, prices, rng)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[v.Venue()]; ok {
			return nil, fmt.Errorf("duplicate venue: %s", v.Venue())
		}
		seen[v.Venue()] = struct{}{}
		providers = append(providers, v)
	}

	return providers, nil
}

func (v *SimulatedVenue) Venue() string {
	return v.config.Name
}

func (v *SimulatedVenue) GetQuote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (quote *entity.Quote, err error) {
	if strings.TrimSpace(tokenIn) == "" || strings.TrimSpace(tokenOut) == "" || amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidQuoteReq
	}

	started := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.QuoteLatency.WithLabelValues(v.config.Name, result).Observe(time.Since(started).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	latency, fails, deviation, liquidityRatio := v.draw()

	timer := time.NewTimer(latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrQuoteTimeout, v.config.Timeout)
		}
		return nil, ctx.Err()
	case <-timer.C:
	}

	if fails {
		return nil, ErrQuoteRejected
	}

	basePrice := v.prices.BasePrice(tokenIn, tokenOut)
	price := basePrice.Mul(decimal.NewFromInt(1).Add(v.config.PriceVariance.Mul(decimal.NewFromFloat(deviation)))).Round(quotePricePrecision)
	liquidity := v.config.MinLiquidity.Add(v.config.MaxLiquidity.Sub(v.config.MinLiquidity).Mul(decimal.NewFromFloat(liquidityRatio))).Round(2)

	slippage := decimal.Zero
	if liquidity.GreaterThan(decimal.Zero) {
		slippage = amount.Mul(price).DivRound(liquidity, quoteSlippageDecimal)
	}
	if slippage.GreaterThan(decimal.NewFromFloat(maxSlippageEstimate)) {
		slippage = decimal.NewFromFloat(maxSlippageEstimate)
	}

	quote = &entity.Quote{
		Venue:     v.config.Name,
		Price:     price,
		Fee:       v.config.Fee,
		Liquidity: liquidity,
		Slippage:  slippage,
	}

	logrus.WithFields(logrus.Fields{
		"venue":     v.config.Name,
		"token_in":  tokenIn,
		"token_out": tokenOut,
		"amount":    amount.String(),
		"price":     price.String(),
		"latency":   latency.String(),
	}).Debug("quote generated")

	return quote, nil
}

// draw returns latency, whether the request fails, a price deviation in [-1,1]
// and a liquidity ratio in [0,1).
func (v *SimulatedVenue) draw() (time.Duration, bool, float64, float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	latency := v.config.MinLatency
	if window := v.config.MaxLatency - v.config.MinLatency; window > 0 {
		latency += time.Duration(v.rng.Int63n(int64(window) + 1))
	}

	fails := v.config.FailureRate > 0 && v.rng.Float64() < v.config.FailureRate
	deviation := v.rng.Float64()*2 - 1
	liquidityRatio := v.rng.Float64()

	return latency, fails, deviation, liquidityRatio
}
