// Package rerank holds cross-encoder reranker adapters: a TEI-style HTTP service and a
// local subprocess worker.
package rerank

import (
	"context"
	"fmt"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/resilience"
)

// Executor runs provider calls with retries and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier resilience.ErrorClassifier) error
}

func run(ctx context.Context, exec Executor, op string, fn func(context.Context) error) error {
	if exec == nil {
		return fn(ctx)
	}
	return exec.Execute(ctx, op, fn, resilience.ClassifyProviderError)
}

func checkCount(want, got int) error {
	if want != got {
		return fmt.Errorf("reranker returned %d scores for %d texts", got, want)
	}
	return nil
}
