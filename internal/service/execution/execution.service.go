package execution

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	settlementRefCounterBytes = 8
	settlementRefRandomBytes  = 24
	executedPricePrecision    = 8
	slippagePrecision         = 6
)

var (
	ErrNoQuoteForVenue  = errors.New("routing decision has no quote for venue")
	ErrSettlementFailed = errors.New("transaction was not confirmed")
)

var settlementCounter atomic.Uint64

type ExecutionService struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	maxSlippage decimal.Decimal
	failureRate float64

	mu  sync.Mutex
	rng *mrand.Rand
}

func NewExecutionService(cfg config.ExecutionConfig, rng *mrand.Rand) *ExecutionService {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}

	minLatency := cfg.MinLatency
	if minLatency <= 0 {
		minLatency = time.Millisecond
	}
	maxLatency := cfg.MaxLatency
	if maxLatency < minLatency {
		maxLatency = minLatency
	}

	maxSlippage := cfg.MaxSlippage
	if maxSlippage.IsNegative() {
		maxSlippage = decimal.Zero
	}

	return &ExecutionService{
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		maxSlippage: maxSlippage,
		failureRate: cfg.FailureRate,
		rng:         rng,
	}
}

// Execute simulates building, sending and confirming the swap on venue at the price
// the venue quoted during routing.
func (s *ExecutionService) Execute(ctx context.Context, venue string, order entity.Order) (*entity.ExecutionResult, error) {
	comparison, ok := order.RoutingDecision.Comparison(venue)
	if !ok {
		return nil, &entity.SettlementError{Venue: venue, Err: ErrNoQuoteForVenue}
	}

	latency, slippageDraw, fail := s.draw()
	start := time.Now()

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	if fail {
		return nil, &entity.SettlementError{Venue: venue, Err: ErrSettlementFailed}
	}

	ref, err := NewSettlementRef()
	if err != nil {
		return nil, fmt.Errorf("generate settlement ref: %w", err)
	}

	slippage := s.maxSlippage.Mul(decimal.NewFromFloat(slippageDraw)).Round(slippagePrecision)
	executedPrice := comparison.Price.Mul(decimal.NewFromInt(1).Sub(slippage)).Round(executedPricePrecision)

	logrus.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"venue":          venue,
		"settlement_ref": ref,
		"executed_price": executedPrice.String(),
		"slippage":       slippage.String(),
	}).Debug("swap settled")

	return &entity.ExecutionResult{
		Venue:         venue,
		SettlementRef: ref,
		ExecutedPrice: executedPrice,
		Slippage:      slippage,
		ElapsedTime:   time.Since(start),
	}, nil
}

func (s *ExecutionService) draw() (time.Duration, float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += time.Duration(s.rng.Int63n(int64(spread) + 1))
	}

	return latency, s.rng.Float64(), s.failureRate > 0 && s.rng.Float64() < s.failureRate
}

// NewSettlementRef returns 64 hex chars: a process-wide counter followed by random bytes.
func NewSettlementRef() (string, error) {
	buf := make([]byte, settlementRefCounterBytes+settlementRefRandomBytes)
	binary.BigEndian.PutUint64(buf[:settlementRefCounterBytes], settlementCounter.Add(1))

	if _, err := rand.Read(buf[settlementRefCounterBytes:]); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
