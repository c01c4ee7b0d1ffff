package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/result"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
)

// rerankStage re-scores the head of the fused list. It never fails a query: any error
// or timeout leaves the fused order in place.
type rerankStage struct {
	reranker    domain.Reranker
	width       int
	timeout     time.Duration
	concurrency int
}

// apply reranks the first width candidates. texts[i] is the chunk text of cands[i].
// The returned slice is a new ordering; cands is not modified.
func (s *rerankStage) apply(
	ctx context.Context, logger *zap.Logger, query string, cands []result.Candidate, texts []string,
) ([]result.Candidate, bool) {
	if s == nil || s.reranker == nil || len(cands) == 0 {
		return cands, false
	}
	n := len(cands)
	if s.width > 0 && s.width < n {
		n = s.width
	}

	rctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	scores, err := s.score(rctx, query, texts[:n])
	metrics.RetrievalStageDuration.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		metrics.RerankFallbacksTotal.WithLabelValues(reason).Inc()
		logger.Warn("rerank failed, keeping fusion order",
			zap.String("reason", reason),
			zap.Int("candidates", n),
			zap.Error(err),
		)
		return cands, false
	}

	head := make([]result.Candidate, n)
	copy(head, cands[:n])
	for i := range head {
		sc := scores[i]
		head[i].RerankScore = &sc
	}
	sort.SliceStable(head, func(i, j int) bool {
		a, b := head[i], head[j]
		if *a.RerankScore != *b.RerankScore {
			return *a.RerankScore > *b.RerankScore
		}
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		return a.ChunkID < b.ChunkID
	})

	out := make([]result.Candidate, 0, len(cands))
	out = append(out, head...)
	out = append(out, cands[n:]...)
	return out, true
}

func (s *rerankStage) score(ctx context.Context, query string, texts []string) ([]float64, error) {
	var scores []float64
	if br, ok := s.reranker.(domain.BatchReranker); ok {
		var err error
		scores, err = br.ScoreBatch(ctx, query, texts)
		if err != nil {
			return nil, err
		}
		if len(scores) != len(texts) {
			return nil, fmt.Errorf("reranker returned %d scores for %d texts", len(scores), len(texts))
		}
	} else {
		scores = make([]float64, len(texts))
		g, gctx := errgroup.WithContext(ctx)
		if s.concurrency > 0 {
			g.SetLimit(s.concurrency)
		}
		for i, t := range texts {
			g.Go(func() error {
				sc, err := s.reranker.Score(gctx, query, t)
				if err != nil {
					return fmt.Errorf("score candidate %d: %w", i, err)
				}
				scores[i] = sc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	// a late result after the deadline is still a timeout
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, sc := range scores {
		if math.IsNaN(sc) || math.IsInf(sc, 0) {
			return nil, fmt.Errorf("reranker returned non-finite score for candidate %d", i)
		}
	}
	return scores, nil
}
