package util

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{"first attempt", 1, 0, time.Second},
		{"second attempt", 2, 0, 2 * time.Second},
		{"third attempt", 3, 0, 4 * time.Second},
		{"zero attempt treated as first", 0, 0, time.Second},
		{"capped", 10, 30 * time.Second, 30 * time.Second},
		{"huge attempt capped", 1000, time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExponentialBackoff(tt.attempt, time.Second, tt.max))
		})
	}

	assert.Zero(t, ExponentialBackoff(3, 0, time.Minute))
}

func TestBackoffWithJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	min := 100 * time.Millisecond
	max := 2 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		got := BackoffWithJitter(attempt, 2, min, max, rng)
		assert.GreaterOrEqual(t, got, min)
		assert.LessOrEqual(t, got, max)
	}

	assert.Equal(t, min, BackoffWithJitter(0, 2, min, min, rng))
}
