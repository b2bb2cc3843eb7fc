package util

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns base * 2^(attempt-1) for a 1-based attempt, capped at max.
// A non-positive max disables the cap.
func ExponentialBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	// 2^62 overflows any realistic base, cap before shifting
	if attempt > 32 {
		if max > 0 {
			return max
		}
		attempt = 32
	}

	backoff := base * time.Duration(int64(1)<<(attempt-1))
	if backoff < base || (max > 0 && backoff > max) {
		if max > 0 {
			return max
		}
		return time.Duration(math.MaxInt64)
	}

	return backoff
}

// BackoffWithJitter is the reconnect delay used for infrastructure clients:
// min * factor^attempt capped at max, plus a random jitter inside [min, max].
func BackoffWithJitter(attempt int, factor float64, min, max time.Duration, rng *rand.Rand) time.Duration {
	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	base := time.Duration(backoff)
	if max <= min {
		return base
	}

	jitterWindow := max - min
	jitter := time.Duration(rng.Int63n(int64(jitterWindow) + 1))
	result := base + jitter
	if result > max {
		return max
	}

	return result
}
