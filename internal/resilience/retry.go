package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultRetryDelay = 150 * time.Millisecond

// ErrRetryBudgetExhausted wraps the last error once the configured attempt
// bound is spent. Callers unwrap it to see what kept failing.
type ErrRetryBudgetExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrRetryBudgetExhausted) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrRetryBudgetExhausted) Unwrap() error {
	return e.Last
}

// Gateway re-invokes operations on retryable failures. It holds no connection
// state of its own; ConnWatcher owns reconnection.
type Gateway struct {
	classifier *Classifier
	strategy   Strategy
	logger     *slog.Logger
}

// NewGateway returns a gateway using the given classifier and delay strategy.
// A nil strategy falls back to a constant short delay.
func NewGateway(classifier *Classifier, strategy Strategy, logger *slog.Logger) *Gateway {
	if strategy == nil {
		strategy = NewConstant(defaultRetryDelay)
	}
	return &Gateway{classifier: classifier, strategy: strategy, logger: logger}
}

// ExecuteWithRetry runs op, re-invoking it up to retries additional times on
// retryable errors. Non-retryable errors propagate unchanged on first
// occurrence. When the budget is spent the last error is surfaced wrapped in
// *ErrRetryBudgetExhausted.
func (g *Gateway) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) error, retries int) error {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.strategy.Delay(attempt)):
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !g.classifier.Retryable(lastErr) {
			return lastErr
		}
		g.logger.Warn("retryable operation failed", "attempt", attempt+1, "error", lastErr)
	}
	return &ErrRetryBudgetExhausted{Attempts: retries + 1, Last: lastErr}
}
