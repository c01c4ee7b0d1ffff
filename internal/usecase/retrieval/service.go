package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/request"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/result"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/logger"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/text"
)

// Filter plans reported in Response.FilterPlan.
const (
	PlanNone  = "none"
	PlanPre   = "pre"
	PlanPost  = "post"
	PlanEmpty = "empty"
)

// Options tunes the query pipeline. Zero values take the defaults below.
type Options struct {
	Strategy Strategy
	Alpha    float64
	RRFK     int
	// Width is the per-index candidate count W. It is raised to top_k when smaller.
	Width int
	// RerankWidth is the number of fused candidates R <= W sent to the reranker.
	RerankWidth        int
	RerankConcurrency  int
	EmbedTimeout       time.Duration
	RerankTimeout      time.Duration
	PrefilterThreshold float64
	// RerankByDefault applies when a request leaves the toggle unset.
	RerankByDefault bool
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Strategy:           StrategyWeighted,
		Alpha:              DefaultAlpha,
		RRFK:               DefaultRRFK,
		Width:              50,
		RerankWidth:        20,
		RerankConcurrency:  4,
		EmbedTimeout:       10 * time.Second,
		RerankTimeout:      5 * time.Second,
		PrefilterThreshold: 0.2,
		RerankByDefault:    true,
	}
}

// Response is one retrieval outcome. An empty Hits slice is a valid answer.
type Response struct {
	Hits            []result.Hit
	SnapshotVersion string
	Collapsed       int
	Reranked        bool
	Empty           bool
	FilterPlan      string
}

// Service is the read path: it queries both indexes of the published snapshot,
// fuses and deduplicates their rankings, and optionally reranks the result.
type Service struct {
	snaps  Snapshots
	embed  Embedder
	rerank *rerankStage
	opts   Options
}

// New creates a retrieval service. reranker may be nil.
func New(snaps Snapshots, embed Embedder, reranker domain.Reranker, opts Options) (*Service, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyWeighted
	}
	fo := FusionOptions{Strategy: opts.Strategy, Alpha: opts.Alpha, RRFK: opts.RRFK, Width: opts.Width}
	if err := fo.Validate(); err != nil {
		return nil, fmt.Errorf("retrieval options: %w", err)
	}
	if opts.PrefilterThreshold < 0 || opts.PrefilterThreshold > 1 {
		return nil, fmt.Errorf("retrieval options: %w: prefilter_threshold must be in [0,1]", domain.ErrInvalidInput)
	}
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.RerankWidth <= 0 || opts.RerankWidth > opts.Width {
		opts.RerankWidth = min(DefaultOptions().RerankWidth, opts.Width)
	}
	s := &Service{snaps: snaps, embed: embed, opts: opts}
	if reranker != nil {
		s.rerank = &rerankStage{
			reranker:    reranker,
			width:       opts.RerankWidth,
			timeout:     opts.RerankTimeout,
			concurrency: opts.RerankConcurrency,
		}
	}
	return s, nil
}

// Retrieve runs the full query pipeline against one snapshot lease.
func (s *Service) Retrieve(ctx context.Context, req request.Request) (resp Response, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case resp.Empty:
			status = "empty"
			metrics.EmptyResultsTotal.Inc()
		}
		metrics.RetrievalDuration.WithLabelValues(string(req.Mode()), status).Observe(time.Since(start).Seconds())
	}()

	h, err := s.snaps.Acquire()
	if err != nil {
		return Response{}, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer h.Release()
	snap := h.Snapshot()
	log := logger.FromContext(ctx).With(zap.String("snapshot", snap.Version()))

	resp = Response{SnapshotVersion: snap.Version(), FilterPlan: PlanNone}
	topK := req.TopK()
	width := max(s.opts.Width, topK)
	chunks := snap.Chunks()
	n := chunks.Len()

	var (
		pre  index.Allow
		post index.Allow
	)
	if !req.Filters().IsEmpty() {
		allow, matched := chunks.Filter(req.Filters())
		switch {
		case matched == 0:
			resp.FilterPlan = PlanEmpty
			resp.Empty = true
			metrics.FilterPlansTotal.WithLabelValues(PlanEmpty).Inc()
			return resp, nil
		case float64(matched)/float64(n) <= s.opts.PrefilterThreshold:
			resp.FilterPlan = PlanPre
			pre = allow
		default:
			resp.FilterPlan = PlanPost
			post = allow
			width = min(n, int(math.Ceil(float64(width)*float64(n)/float64(matched))))
		}
		metrics.FilterPlansTotal.WithLabelValues(resp.FilterPlan).Inc()
	} else {
		metrics.FilterPlansTotal.WithLabelValues(PlanNone).Inc()
	}

	var queryVec []float32
	if req.Mode().UsesDense() {
		queryVec, err = s.embedQuery(ctx, req.Query())
		if err != nil {
			return Response{}, err
		}
	}

	var denseHits, sparseHits []index.Scored
	var g errgroup.Group
	if req.Mode().UsesDense() {
		g.Go(func() error {
			t := time.Now()
			hits, err := snap.Dense().Search(queryVec, width, pre)
			metrics.RetrievalStageDuration.WithLabelValues("dense").Observe(time.Since(t).Seconds())
			if err != nil {
				return fmt.Errorf("dense search: %w", err)
			}
			denseHits = hits
			return nil
		})
	}
	if req.Mode().UsesSparse() {
		g.Go(func() error {
			t := time.Now()
			sparseHits = snap.Sparse().Search(text.Analyze(req.Query()), width, pre)
			metrics.RetrievalStageDuration.WithLabelValues("sparse").Observe(time.Since(t).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}
	metrics.RetrievalCandidates.WithLabelValues("dense").Observe(float64(len(denseHits)))
	metrics.RetrievalCandidates.WithLabelValues("sparse").Observe(float64(len(sparseHits)))

	t := time.Now()
	fused := Fuse(denseHits, sparseHits, chunks, FusionOptions{
		Strategy: s.opts.Strategy,
		Alpha:    s.opts.Alpha,
		RRFK:     s.opts.RRFK,
		Width:    max(s.opts.Width, topK),
		Allow:    post,
	})
	metrics.RetrievalStageDuration.WithLabelValues("fuse").Observe(time.Since(t).Seconds())
	if fused.Collapsed > 0 {
		metrics.DuplicatesCollapsedTotal.Add(float64(fused.Collapsed))
	}
	resp.Collapsed = fused.Collapsed

	cands := fused.Candidates
	if s.rerankEnabled(req) && len(cands) > 0 {
		texts := make([]string, len(cands))
		for i, c := range cands {
			ch, err := chunks.Get(c.ChunkID)
			if err != nil {
				return Response{}, fmt.Errorf("resolve candidate: %w", err)
			}
			texts[i] = ch.Text()
		}
		cands, resp.Reranked = s.rerank.apply(ctx, log, req.Query(), cands, texts)
	}

	if len(cands) > topK {
		cands = cands[:topK]
	}
	resp.Hits = make([]result.Hit, 0, len(cands))
	for _, c := range cands {
		ch, err := chunks.Get(c.ChunkID)
		if err != nil {
			return Response{}, fmt.Errorf("resolve candidate: %w", err)
		}
		resp.Hits = append(resp.Hits, result.NewHit(c, ch))
	}
	resp.Empty = len(resp.Hits) == 0

	log.Debug("retrieval completed",
		zap.String("mode", string(req.Mode())),
		zap.Int("dense", len(denseHits)),
		zap.Int("sparse", len(sparseHits)),
		zap.Int("hits", len(resp.Hits)),
		zap.Int("collapsed", resp.Collapsed),
		zap.Bool("reranked", resp.Reranked),
		zap.String("filter_plan", resp.FilterPlan),
	)
	return resp, nil
}

// Chunk looks up a chunk in the published snapshot.
func (s *Service) Chunk(_ context.Context, id chunk.ID) (chunk.Chunk, string, error) {
	h, err := s.snaps.Acquire()
	if err != nil {
		return chunk.Chunk{}, "", fmt.Errorf("acquire snapshot: %w", err)
	}
	defer h.Release()
	c, err := h.Snapshot().Chunks().Get(id)
	if err != nil {
		return chunk.Chunk{}, "", err
	}
	return c, h.Version(), nil
}

// Manifest describes the published snapshot.
func (s *Service) Manifest() (snapshot.Manifest, error) {
	h, err := s.snaps.Acquire()
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("acquire snapshot: %w", err)
	}
	defer h.Release()
	return h.Snapshot().Manifest(), nil
}

func (s *Service) rerankEnabled(req request.Request) bool {
	if s.rerank == nil {
		return false
	}
	if on := req.Rerank(); on != nil {
		return *on
	}
	return s.opts.RerankByDefault
}

// embedQuery is a hard dependency: without a vector there is no dense search.
func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ectx := ctx
	if s.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.opts.EmbedTimeout)
		defer cancel()
	}
	t := time.Now()
	res, err := s.embed.Embed(ectx, query)
	metrics.RetrievalStageDuration.WithLabelValues("embed").Observe(time.Since(t).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, fmt.Errorf("vectorize query: %w", ctx.Err())
		}
		return nil, domain.Unavailable("vectorize query", err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
	return res.Embedding, nil
}
