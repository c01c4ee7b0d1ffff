package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

func fastRetry(breaker bool) Config {
	return Config{
		RetryMaxAttempts:        3,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         2 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          breaker,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastRetry(false), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("call: %w", domain.ErrRateLimited)
		}
		return nil
	}, ClassifyProviderError)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryInvalidInput(t *testing.T) {
	exec := NewExecutor(fastRetry(false), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		attempts++
		return fmt.Errorf("call: %w", domain.ErrInvalidInput)
	}, ClassifyProviderError)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := NewExecutor(fastRetry(false), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "rerank", func(context.Context) error {
		attempts++
		return domain.Unavailable("rerank", errors.New("connection refused"))
	}, ClassifyProviderError)
	if !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(fastRetry(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "embed", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatal("operation must not run after cancellation")
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	cfg := fastRetry(true)
	cfg.RetryMaxAttempts = 1
	exec := NewExecutor(cfg, nil)

	errDown := errors.New("down")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "embed", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("expected down error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "embed", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("open circuit should surface as unavailable, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatal("IsCircuitOpen() = false")
	}

	// breakers are per operation
	if err := exec.Execute(context.Background(), "rerank", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("independent operation affected: %v", err)
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"canceled", context.Canceled, ErrorClassification{}},
		{"invalid", domain.ErrInvalidInput, ErrorClassification{}},
		{"dimension", domain.NewDimensionMismatch(384, 256), ErrorClassification{}},
		{"quota", domain.ErrEmbeddingQuotaExceeded, ErrorClassification{RecordFailure: true}},
		{"rate limited", domain.ErrRateLimited, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"deadline", context.DeadlineExceeded, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"other", errors.New("boom"), ErrorClassification{RecordFailure: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyProviderError(tt.err); got != tt.want {
				t.Errorf("ClassifyProviderError(%v) = %+v, want %+v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigNormalize(t *testing.T) {
	got := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond, BreakerFailureRatio: 3}.normalize()
	def := DefaultConfig()
	if got.RetryMaxAttempts != def.RetryMaxAttempts {
		t.Errorf("RetryMaxAttempts = %d", got.RetryMaxAttempts)
	}
	if got.RetryMaxBackoff != time.Second {
		t.Errorf("RetryMaxBackoff = %v, want raised to initial backoff", got.RetryMaxBackoff)
	}
	if got.BreakerFailureRatio != def.BreakerFailureRatio {
		t.Errorf("BreakerFailureRatio = %v", got.BreakerFailureRatio)
	}
}
