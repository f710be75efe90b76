package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickgig/backend/internal/processor"
)

func testGateway() *Gateway {
	return NewGateway(NewClassifier(), NewConstant(time.Millisecond), slog.New(slog.DiscardHandler))
}

// ---------------------------------------------------------------------------
// ExecuteWithRetry
// ---------------------------------------------------------------------------

func TestExecuteWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	g := testGateway()
	calls := 0
	err := g.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	}, 3)
	if err != nil {
		t.Fatalf("ExecuteWithRetry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestExecuteWithRetry_NonRetryablePropagatesUnchanged(t *testing.T) {
	g := testGateway()
	terminal := &processor.Error{Code: "card_declined", Message: "declined"}
	calls := 0
	err := g.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	}, 3)
	if !errors.Is(err, terminal) {
		t.Errorf("got %v, want the original terminal error", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	var exhausted *ErrRetryBudgetExhausted
	if errors.As(err, &exhausted) {
		t.Error("terminal error must not be wrapped as budget exhaustion")
	}
}

func TestExecuteWithRetry_BudgetExhausted(t *testing.T) {
	g := testGateway()
	transient := &pgconn.PgError{Code: "40P01"}
	calls := 0
	err := g.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	}, 2)
	var exhausted *ErrRetryBudgetExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want *ErrRetryBudgetExhausted", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("attempts: got %d, want 3 (1 initial + 2 retries)", exhausted.Attempts)
	}
	if !errors.Is(err, transient) {
		t.Error("exhaustion error must unwrap to the last failure")
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestExecuteWithRetry_ContextCancellationStopsRetries(t *testing.T) {
	g := NewGateway(NewClassifier(), NewConstant(50*time.Millisecond), slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := g.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		calls++
		return io.EOF
	}, 10)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1 (cancellation lands during the delay)", calls)
	}
}

func TestExecuteWithRetry_ZeroRetriesRunsOnce(t *testing.T) {
	g := testGateway()
	calls := 0
	err := g.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return io.EOF
	}, 0)
	var exhausted *ErrRetryBudgetExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want *ErrRetryBudgetExhausted", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

func TestClassifier_Retryable(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false},
		{"processor rate limited", &processor.Error{Code: "rate_limited"}, true},
		{"processor 503", &processor.Error{Code: "processing_error", HTTPStatus: 503}, true},
		{"card declined", &processor.Error{Code: "card_declined"}, false},
		{"insufficient funds", &processor.Error{Code: "insufficient_funds"}, false},
		{"eof", io.EOF, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Retryable(tc.err); got != tc.want {
				t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifier_ConnectionError(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"broken pipe", syscall.EPIPE, true},
		{"pg connection exception", &pgconn.PgError{Code: "08000"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.ConnectionError(tc.err); got != tc.want {
				t.Errorf("ConnectionError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Backoff strategies
// ---------------------------------------------------------------------------

func TestConstantDelay(t *testing.T) {
	c := NewConstant(250 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := c.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 250ms", attempt, got)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	e := NewExponentialWithJitter(100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := 100 * time.Millisecond << (attempt - 1)
		if ceiling > time.Second {
			ceiling = time.Second
		}
		for i := 0; i < 50; i++ {
			d := e.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("Delay(%d) = %v, outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}
