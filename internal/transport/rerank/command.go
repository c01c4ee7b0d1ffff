package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

var _ domain.BatchReranker = (*Command)(nil)

// Command scores pairs with a local worker process, started once per batch.
// The worker reads {"query": ..., "chunks": [{"text": ...}]} on stdin and writes
// {"scores": [...]} on stdout, one score per chunk in order.
type Command struct {
	path   string
	args   []string
	exec   Executor
	logger *zap.Logger
}

type commandRequest struct {
	Query  string         `json:"query"`
	Chunks []commandChunk `json:"chunks"`
}

type commandChunk struct {
	Text string `json:"text"`
}

type commandResponse struct {
	Scores []float64 `json:"scores"`
}

// NewCommand resolves path on PATH and returns a subprocess reranker.
func NewCommand(path string, args []string, executor Executor, logger *zap.Logger) (*Command, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("rerank command %q not found: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{path: resolved, args: args, exec: executor, logger: logger}, nil
}

// Score implements domain.Reranker.
func (c *Command) Score(ctx context.Context, query, text string) (float64, error) {
	scores, err := c.ScoreBatch(ctx, query, []string{text})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch implements domain.BatchReranker.
func (c *Command) ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error) {
	var scores []float64
	err := run(ctx, c.exec, "rerank.command", func(ctx context.Context) error {
		var err error
		scores, err = c.invoke(ctx, query, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

func (c *Command) invoke(ctx context.Context, query string, texts []string) ([]float64, error) {
	req := commandRequest{Query: query, Chunks: make([]commandChunk, len(texts))}
	for i, t := range texts {
		req.Chunks[i] = commandChunk{Text: t}
	}
	in, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank input: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.logger.Warn("Rerank worker failed",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", tail(stderr.String(), 512)),
			)
		}
		return nil, domain.Unavailable("rerank worker", err)
	}

	var resp commandResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode rerank output: %w", err)
	}
	if err := checkCount(len(texts), len(resp.Scores)); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
