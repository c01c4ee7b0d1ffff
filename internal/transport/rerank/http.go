package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

var _ domain.BatchReranker = (*HTTPClient)(nil)

// DefaultBatchSize bounds the texts sent in one request.
const DefaultBatchSize = 32

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	URL       string // service root; requests go to URL + "/rerank"
	Model     string // sent when the service hosts several models
	BatchSize int
	Timeout   time.Duration
	Executor  Executor
	Logger    *zap.Logger
}

// HTTPClient scores (query, text) pairs against a text-embeddings-inference style
// /rerank endpoint.
type HTTPClient struct {
	baseURL    string
	model      string
	batchSize  int
	httpClient *http.Client
	exec       Executor
	logger     *zap.Logger
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Model     string   `json:"model,omitempty"`
	RawScores bool     `json:"raw_scores"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPClient creates an HTTP reranker.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rerank url is required: %w", domain.ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		exec:       cfg.Executor,
		logger:     cfg.Logger,
	}, nil
}

// Score implements domain.Reranker.
func (c *HTTPClient) Score(ctx context.Context, query, text string) (float64, error) {
	scores, err := c.ScoreBatch(ctx, query, []string{text})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch implements domain.BatchReranker. Scores are returned in input order.
func (c *HTTPClient) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	out := make([]float64, 0, len(texts))
	for offset := 0; offset < len(texts); offset += c.batchSize {
		end := min(offset+c.batchSize, len(texts))
		var part []float64
		err := run(ctx, c.exec, "rerank.http", func(ctx context.Context) error {
			var err error
			part, err = c.post(ctx, query, texts[offset:end])
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (c *HTTPClient) post(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Unavailable("rerank request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, formatHTTPError(resp)
	}

	var scored []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if err := checkCount(len(texts), len(scored)); err != nil {
		return nil, err
	}

	out := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(texts) || seen[s.Index] {
			return nil, fmt.Errorf("rerank response has invalid index %d", s.Index)
		}
		seen[s.Index] = true
		out[s.Index] = s.Score
	}
	return out, nil
}

func formatHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	err := fmt.Errorf("rerank status: %s: %s", resp.Status, msg)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", err, domain.ErrRateLimited)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", err, domain.ErrDependencyUnavailable)
	default:
		return err
	}
}
