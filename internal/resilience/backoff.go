package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed). Strategies
// are stateless and safe for concurrent use.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay. This is the baseline retry policy
// for store operations.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ExponentialWithJitter applies full jitter to an exponential base:
// a random value in [0, min(Initial * 2^(attempt-1), Max)]. Prevents
// thundering herd when many retries fire together.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base)
}
