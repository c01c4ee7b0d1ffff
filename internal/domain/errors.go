package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an unknown chunk or snapshot reference.
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch signals that a vector length disagrees with the snapshot.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDependencyUnavailable signals an unreachable embedding producer, extractor or reranker.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrInvalidInput signals a rejected request or record.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited signals a provider-side rate limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrEmbeddingQuotaExceeded signals an exhausted provider quota.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// DimensionMismatchError carries both sides of a failed dimension check.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: snapshot has %d, got %d", ErrDimensionMismatch.Error(), e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(expected, got int) error {
	return &DimensionMismatchError{Expected: expected, Got: got}
}

// Unavailable wraps err so that it matches ErrDependencyUnavailable while keeping the cause.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDependencyUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDependencyUnavailable, err)
}
