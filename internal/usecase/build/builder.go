package build

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/batch"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/resilience"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// Options tunes a build.
type Options struct {
	Workers int
	// RateLimit caps provider calls per second across workers. Zero disables throttling.
	RateLimit    float64
	Burst        int
	EmbedText    EmbedText
	KeywordCount int
	// Dimension pins the snapshot dimension. Zero takes it from the lowest-id embedding.
	Dimension      int
	Metric         dense.Metric
	EmbeddingModel string
	// Retain is how many superseded snapshot directories survive pruning. Negative disables pruning.
	Retain int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Workers:      4,
		EmbedText:    EmbedKeywords,
		KeywordCount: DefaultKeywordCount,
		Metric:       dense.MetricCosine,
		Retain:       2,
	}
}

// Option configures optional collaborators.
type Option func(*Builder)

// WithExtractor enables metadata extraction for records without metadata.
func WithExtractor(e domain.MetadataExtractor) Option {
	return func(b *Builder) { b.extractor = e }
}

// WithNotifier announces published snapshots.
func WithNotifier(n Notifier) Option {
	return func(b *Builder) { b.notifier = n }
}

// WithExecutor routes provider calls through a retry/breaker executor.
func WithExecutor(e Executor) Option {
	return func(b *Builder) { b.exec = e }
}

// Builder turns records into a published snapshot. One build runs at a time; a
// failed build leaves the previously published snapshot in place.
type Builder struct {
	embed     Embedder
	extractor domain.MetadataExtractor
	store     Persister
	registry  Publisher
	notifier  Notifier
	exec      Executor
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	status  Status
}

// New creates a Builder.
func New(embed Embedder, store Persister, registry Publisher, opts Options, logger *zap.Logger, extra ...Option) (*Builder, error) {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.EmbedText == "" {
		opts.EmbedText = def.EmbedText
	}
	if !opts.EmbedText.IsValid() {
		return nil, fmt.Errorf("%w: unknown embed text variant %q", domain.ErrInvalidInput, opts.EmbedText)
	}
	if opts.KeywordCount <= 0 {
		opts.KeywordCount = def.KeywordCount
	}
	if opts.Metric == "" {
		opts.Metric = def.Metric
	}
	if !opts.Metric.IsValid() {
		return nil, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidInput, opts.Metric)
	}
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("%w: dimension must not be negative", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		embed:    embed,
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		status:   Status{State: StateEmpty},
	}
	if opts.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}
	for _, o := range extra {
		o(b)
	}
	setStateMetric(StateEmpty)
	return b, nil
}

// Status returns a copy of the current build status.
func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	st.Exclusions = append([]batch.Result(nil), b.status.Exclusions...)
	return st
}

// Running reports whether a build is in progress.
func (b *Builder) Running() bool { return b.running.Load() }

// Run builds, persists and publishes a snapshot from records. It returns
// ErrBuildInProgress when another build is running.
func (b *Builder) Run(ctx context.Context, records []Record) (m snapshot.Manifest, err error) {
	if !b.running.CompareAndSwap(false, true) {
		return snapshot.Manifest{}, ErrBuildInProgress
	}
	defer b.running.Store(false)

	start := time.Now()
	b.mu.Lock()
	b.status = Status{State: StateIngesting, StartedAt: start, Records: len(records)}
	b.mu.Unlock()
	setStateMetric(StateIngesting)

	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
			b.update(func(s *Status) {
				s.State = StateFailed
				s.Error = err.Error()
				s.FinishedAt = time.Now()
			})
			setStateMetric(StateFailed)
			b.logger.Error("index build failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		}
		metrics.BuildDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	firstID := chunk.ID(1)
	prev, err := b.store.LoadManifest()
	switch {
	case err == nil:
		firstID = prev.NextChunkID
		b.update(func(s *Status) { s.PreviousVersion = prev.Version })
	case errors.Is(err, domain.ErrNotFound):
	default:
		return snapshot.Manifest{}, fmt.Errorf("read previous manifest: %w", err)
	}

	slots, nextID := b.assign(records, firstID)
	if err := b.ingest(ctx, slots); err != nil {
		return snapshot.Manifest{}, err
	}
	if err := b.embedAll(ctx, slots); err != nil {
		return snapshot.Manifest{}, err
	}
	dim := b.settleDimension(slots)

	b.transition(StateIndexing)
	snap, err := b.index(slots, snapshot.Manifest{
		Version:        uuid.NewString(),
		Dimension:      dim,
		Metric:         b.opts.Metric,
		EmbeddingModel: b.opts.EmbeddingModel,
		NextChunkID:    nextID,
		BuiltAt:        time.Now().UTC(),
	})
	if err != nil {
		return snapshot.Manifest{}, err
	}

	b.transition(StatePersisting)
	if err := ctx.Err(); err != nil {
		return snapshot.Manifest{}, err
	}
	saved, err := b.store.Save(ctx, snap)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("persist snapshot: %w", err)
	}

	b.registry.Publish(saved)
	m = saved.Manifest()
	b.update(func(s *Status) {
		s.State = StatePublished
		s.Version = m.Version
		s.FinishedAt = time.Now()
	})
	setStateMetric(StatePublished)
	b.logger.Info("index build published",
		zap.String("version", m.Version),
		zap.Int("chunks", m.ChunkCount),
		zap.Int("dimension", m.Dimension),
		zap.Duration("duration", time.Since(start)),
	)

	if b.notifier != nil {
		if err := b.notifier.SnapshotPublished(ctx, m); err != nil {
			b.logger.Warn("snapshot notification failed", zap.String("version", m.Version), zap.Error(err))
		}
	}
	if b.opts.Retain >= 0 {
		removed, err := b.store.Prune(b.opts.Retain)
		if err != nil {
			b.logger.Warn("snapshot prune failed", zap.Error(err))
		} else if len(removed) > 0 {
			b.logger.Info("pruned old snapshots", zap.Strings("versions", removed))
		}
	}
	return m, nil
}

// slot carries one record through the passes. Each worker owns its slot exclusively.
type slot struct {
	index  int
	record Record
	id     chunk.ID
	chunk  chunk.Chunk
	result *batch.Result
}

func (s *slot) alive() bool { return s.result == nil }

func (s *slot) exclude(stage batch.Stage, err error) {
	r := batch.NewExcluded(s.index, s.id, s.record.SourceDocumentID, stage, err)
	s.result = &r
}

// assign gives every non-blank record the next id in input order.
func (b *Builder) assign(records []Record, first chunk.ID) ([]*slot, chunk.ID) {
	slots := make([]*slot, 0, len(records))
	next := first
	skipped := 0
	for i, r := range records {
		s := &slot{index: i, record: r}
		if isBlank(r.Text) {
			res := batch.NewSkipped(i, r.SourceDocumentID)
			s.result = &res
			skipped++
		} else {
			s.id = next
			next++
		}
		slots = append(slots, s)
	}
	metrics.BuildChunksTotal.WithLabelValues(string(batch.StatusSkipped)).Add(float64(skipped))
	b.update(func(st *Status) { st.Skipped = skipped })
	return slots, next
}

// ingest builds chunks and fills in missing metadata.
func (b *Builder) ingest(ctx context.Context, slots []*slot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	var enriched, enrichFailed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, s := range slots {
		if !s.alive() {
			continue
		}
		g.Go(func() error {
			c, err := chunk.New(s.id, s.record.Text, s.record.SourceDocumentID, s.record.Metadata)
			if err != nil {
				s.exclude(batch.StageChunk, err)
				return nil
			}
			c = c.WithLocation(s.record.Heading, s.record.Page)
			if s.record.Metadata == nil && b.extractor != nil {
				meta, err := b.extract(gctx, c.Text())
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					// Metadata is optional: the chunk is indexed without it.
					meta = nil
					enrichFailed.Add(1)
					b.logger.Warn("metadata extraction failed, indexing chunk without metadata",
						zap.Uint64("chunk_id", uint64(s.id)),
						zap.String("source", s.record.SourceDocumentID),
						zap.Error(err),
					)
				}
				if meta != nil {
					c = c.WithMetadata(meta)
					enriched.Add(1)
				}
			}
			s.chunk = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	metrics.BuildChunksTotal.WithLabelValues(outcomeEnrichFailed).Add(float64(enrichFailed.Load()))
	b.update(func(st *Status) {
		st.Enriched = int(enriched.Load())
		st.EnrichFailed = int(enrichFailed.Load())
	})
	return nil
}

// embedAll runs after ingest so corpus-wide term statistics exist for keyword augmentation.
func (b *Builder) embedAll(ctx context.Context, slots []*slot) error {
	var stats *sparse.Stats
	if b.opts.EmbedText == EmbedKeywords {
		docs := make([]sparse.Document, 0, len(slots))
		for _, s := range slots {
			if s.alive() {
				docs = append(docs, sparse.Document{ID: s.id, Terms: s.chunk.TermVector()})
			}
		}
		stats = sparse.NewStats(docs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for _, s := range slots {
		if !s.alive() {
			continue
		}
		g.Go(func() error {
			input := embedInput(b.opts.EmbedText, &s.chunk, stats, b.opts.KeywordCount)
			vec, err := b.embedOne(gctx, input)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.exclude(batch.StageEmbed, err)
				b.logExclusion(s)
				return nil
			}
			s.chunk = s.chunk.WithEmbedding(vec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	return nil
}

// settleDimension picks the snapshot dimension and excludes chunks that disagree.
func (b *Builder) settleDimension(slots []*slot) int {
	dim := b.opts.Dimension
	if dim == 0 {
		// slots are in id order, so the first survivor has the lowest id
		for _, s := range slots {
			if s.alive() {
				dim = s.chunk.Dimension()
				break
			}
		}
	}
	for _, s := range slots {
		if s.alive() && s.chunk.Dimension() != dim {
			s.exclude(batch.StageDimension, domain.NewDimensionMismatch(dim, s.chunk.Dimension()))
			b.logExclusion(s)
		}
	}
	return dim
}

// index freezes the survivors into a chunk store and builds both indexes over it.
func (b *Builder) index(slots []*slot, m snapshot.Manifest) (*snapshot.Snapshot, error) {
	sb := snapshot.NewStoreBuilder(len(slots))
	var (
		docs       []sparse.Document
		entries    []dense.Entry
		exclusions []batch.Result
		excluded   int
	)
	for _, s := range slots {
		if !s.alive() {
			if s.result.Status() == batch.StatusExcluded {
				excluded++
				if len(exclusions) < maxReportedExclusions {
					exclusions = append(exclusions, *s.result)
				}
			}
			continue
		}
		if err := sb.Append(s.chunk); err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		docs = append(docs, sparse.Document{ID: s.id, Terms: s.chunk.TermVector()})
		entries = append(entries, dense.Entry{ID: s.id, Vector: s.chunk.Embedding()})
	}
	metrics.BuildChunksTotal.WithLabelValues(string(batch.StatusExcluded)).Add(float64(excluded))
	metrics.BuildChunksTotal.WithLabelValues(string(batch.StatusIndexed)).Add(float64(len(entries)))
	b.update(func(st *Status) {
		st.Excluded = excluded
		st.Indexed = len(entries)
		st.Exclusions = exclusions
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("no chunks survived ingestion (%d excluded)", excluded)
	}

	store := sb.Freeze()
	de, err := dense.Build(m.Dimension, m.Metric, entries)
	if err != nil {
		return nil, fmt.Errorf("build dense index: %w", err)
	}
	m.ChunkCount = store.Len()
	snap, err := snapshot.New(m, store, sparse.Build(docs), de)
	if err != nil {
		return nil, fmt.Errorf("assemble snapshot: %w", err)
	}
	return snap, nil
}

func (b *Builder) embedOne(ctx context.Context, input string) ([]float32, error) {
	var vec []float32
	err := b.call(ctx, "build.embed", func(ctx context.Context) error {
		res, err := b.embed.Embed(ctx, input)
		if err != nil {
			return err
		}
		vec = res.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := dense.Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (b *Builder) extract(ctx context.Context, text string) (*chunk.Metadata, error) {
	var meta *chunk.Metadata
	err := b.call(ctx, "build.extract", func(ctx context.Context) error {
		m, err := b.extractor.Extract(ctx, text)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

// call throttles and, when configured, wraps fn in the resilience executor.
func (b *Builder) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if b.exec == nil {
		return fn(ctx)
	}
	return b.exec.Execute(ctx, op, fn, resilience.ClassifyProviderError)
}

func (b *Builder) logExclusion(s *slot) {
	b.logger.Warn("chunk excluded from build",
		zap.Uint64("chunk_id", uint64(s.id)),
		zap.String("source", s.record.SourceDocumentID),
		zap.String("stage", string(s.result.Stage())),
		zap.Error(s.result.Err()),
	)
}

func (b *Builder) transition(st State) {
	b.update(func(s *Status) { s.State = st })
	setStateMetric(st)
}

func (b *Builder) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.status)
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
