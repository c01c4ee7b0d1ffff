package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
)

func shellWorker(t *testing.T, script string) *Command {
	t.Helper()
	c, err := NewCommand("sh", []string{"-c", script}, nil, nil)
	if err != nil {
		t.Skipf("sh not available: %v", err)
	}
	return c
}

func TestCommand_ScoreBatch(t *testing.T) {
	c := shellWorker(t, `grep -qF '"chunks":[{"text":"a"},{"text":"b"}]' && echo '{"scores":[0.25,0.75]}'`)

	scores, err := c.ScoreBatch(context.Background(), "custodial funds", []string{"a", "b"})
	if err != nil {
		t.Fatalf("ScoreBatch: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.25 || scores[1] != 0.75 {
		t.Errorf("scores = %v", scores)
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   error
	}{
		{"exit status", `cat >/dev/null; echo boom >&2; exit 3`, domain.ErrDependencyUnavailable},
		{"garbage", `cat >/dev/null; echo not-json`, nil},
		{"count mismatch", `cat >/dev/null; echo '{"scores":[1]}'`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := shellWorker(t, tt.script)
			_, err := c.ScoreBatch(context.Background(), "q", []string{"a", "b"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCommand_Canceled(t *testing.T) {
	c := shellWorker(t, `sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ScoreBatch(ctx, "q", []string{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewCommand_NotFound(t *testing.T) {
	if _, err := NewCommand("policyrag-no-such-reranker", nil, nil, nil); err == nil {
		t.Fatal("expected error for a missing binary")
	}
}
