package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

// parseAPIError extracts a human-readable error from the API response and wraps the
// domain sentinel the resilience classifier keys on:
//   - 429 rate limit -> domain.ErrRateLimited
//   - 402 or insufficient_quota -> domain.ErrEmbeddingQuotaExceeded
//   - 5xx and transport failures -> domain.ErrDependencyUnavailable
//   - any other API error -> domain.ErrEmbeddingProviderError
func parseAPIError(api string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s request: %w", api, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w",
			api, reqErr.HTTPStatusCode, detail, sentinelFor(reqErr.HTTPStatusCode, detail))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return fmt.Errorf("%s API error %d: %s: %w",
			api, apiErr.HTTPStatusCode, apiErr.Message, sentinelFor(apiErr.HTTPStatusCode, code+" "+apiErr.Type))
	}

	return fmt.Errorf("%s request failed: %w: %w", api, domain.ErrDependencyUnavailable, err)
}

func sentinelFor(status int, detail string) error {
	switch {
	case status == http.StatusPaymentRequired || strings.Contains(detail, "insufficient_quota"):
		return domain.ErrEmbeddingQuotaExceeded
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return domain.ErrDependencyUnavailable
	default:
		return domain.ErrEmbeddingProviderError
	}
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
