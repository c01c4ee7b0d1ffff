package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/config"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/corpus"
	dbRedis "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/db/redis"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/repository/embcache"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/resilience"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	chiTransport "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/transport/chi"
	natsbus "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/transport/nats"
	openaiEmb "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/transport/openai"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/transport/rerank"
	builduc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/build"
	embeddinguc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/embedding"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/retrieval"
)

func registerMetrics() {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()
	metrics.RegisterBuildMetrics()
}

func newSnapshotStore(cfg config.SnapshotConfig, logger *zap.Logger) (*snapshot.Store, error) {
	store, err := snapshot.NewStore(cfg.Root,
		snapshot.WithHashVerification(cfg.VerifyHash),
		snapshot.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store %s: %w", cfg.Root, err)
	}
	return store, nil
}

func newExecutor(cfg config.ResilienceConfig, logger *zap.Logger) *resilience.Executor {
	rc := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoffMs > 0 {
		rc.RetryInitialBackoff = time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond
	}
	if cfg.RetryMaxBackoffMs > 0 {
		rc.RetryMaxBackoff = time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond
	}
	if cfg.BreakerEnabled != nil {
		rc.BreakerEnabled = *cfg.BreakerEnabled
	}
	if cfg.BreakerMinRequests > 0 {
		rc.BreakerMinRequests = cfg.BreakerMinRequests
	}
	if cfg.BreakerFailureRatio > 0 {
		rc.BreakerFailureRatio = cfg.BreakerFailureRatio
	}
	if cfg.BreakerOpenTimeoutSec > 0 {
		rc.BreakerOpenTimeout = time.Duration(cfg.BreakerOpenTimeoutSec) * time.Second
	}
	return resilience.NewExecutor(rc, logger)
}

// openCache connects the embedding cache. It returns nil when the cache is disabled.
func openCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (*dbRedis.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("cache not ready: %w", err)
	}
	logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Addrs))
	return store, nil
}

func providerConfig(cfg config.EmbeddingConfig, logger *zap.Logger) *openaiEmb.Config {
	return &openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		User:       "policyrag",
		Provider:   cfg.Provider,
		Logger:     logger,
	}
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction.
// cache may be nil.
func buildEmbedder(cfg config.Config, cache *dbRedis.Store, instruction string, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(providerConfig(cfg.Embedding, logger))

	var embedder domain.Embedder = base
	if cache != nil {
		embedder = embcache.New(base, cache, embcache.Config{
			Model:     cfg.Embedding.Model,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       time.Duration(cfg.Cache.TTLHours) * time.Hour,
		}, metrics.EmbeddingCacheTotal, logger)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Embedding.Provider, cfg.Embedding.Model,
		time.Duration(cfg.Embedding.TimeoutSec)*time.Second, logger,
	)

	// Outermost, so the cache key includes the instruction.
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// embeddingHealthChecker adapts an embedder chain to health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// newReranker returns nil when reranking is disabled.
func newReranker(cfg config.Config, exec *resilience.Executor, logger *zap.Logger) (domain.Reranker, error) {
	switch cfg.Rerank.Provider {
	case "http":
		c, err := rerank.NewHTTPClient(rerank.HTTPConfig{
			URL:       cfg.Rerank.URL,
			Model:     cfg.Rerank.Model,
			BatchSize: cfg.Rerank.BatchSize,
			Timeout:   time.Duration(cfg.Retrieval.RerankTimeoutMs) * time.Millisecond,
			Executor:  exec,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create http reranker: %w", err)
		}
		return c, nil
	case "command":
		c, err := rerank.NewCommand(cfg.Rerank.Command, cfg.Rerank.Args, exec, logger)
		if err != nil {
			return nil, fmt.Errorf("create command reranker: %w", err)
		}
		return c, nil
	default:
		return nil, nil
	}
}

// newExtractor returns nil when metadata extraction is disabled.
func newExtractor(cfg config.Config, logger *zap.Logger) domain.MetadataExtractor {
	if !cfg.Metadata.Enabled {
		return nil
	}
	return openaiEmb.NewExtractor(&openaiEmb.Config{
		APIKey:   cfg.Metadata.APIKey,
		BaseURL:  cfg.Metadata.BaseURL,
		Model:    cfg.Metadata.Model,
		User:     "policyrag",
		Provider: cfg.Embedding.Provider,
		Logger:   logger,
	}, cfg.Metadata.MinChars)
}

// connectBus returns nil when snapshot events are disabled.
func connectBus(cfg config.NATSConfig, exec *resilience.Executor, logger *zap.Logger) (*natsbus.Bus, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	bus, err := natsbus.Connect(cfg.URL, cfg.Subject, natsbus.Options{Executor: exec, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return bus, nil
}

func newBuilder(
	cfg config.Config,
	embedder domain.Embedder,
	store *snapshot.Store,
	registry *snapshot.Registry,
	exec *resilience.Executor,
	bus *natsbus.Bus,
	logger *zap.Logger,
) (*builduc.Builder, error) {
	opts := builduc.Options{
		Workers:        cfg.Build.Workers,
		RateLimit:      cfg.Build.RateLimit,
		Burst:          cfg.Build.Burst,
		EmbedText:      builduc.EmbedText(cfg.Build.EmbedText),
		KeywordCount:   cfg.Build.KeywordCount,
		Dimension:      cfg.Embedding.Dimensions,
		Metric:         dense.MetricCosine,
		EmbeddingModel: cfg.Embedding.Model,
		Retain:         cfg.Snapshot.Retain,
	}
	extra := []builduc.Option{builduc.WithExecutor(exec)}
	if x := newExtractor(cfg, logger); x != nil {
		extra = append(extra, builduc.WithExtractor(x))
	}
	// A nil *Bus must not become a non-nil Notifier.
	if bus != nil {
		extra = append(extra, builduc.WithNotifier(bus))
	}
	b, err := builduc.New(embedder, store, registry, opts, logger, extra...)
	if err != nil {
		return nil, fmt.Errorf("create index builder: %w", err)
	}
	return b, nil
}

// corpusSource reads and chunks the corpus directory on every call.
func corpusSource(cfg config.CorpusConfig, logger *zap.Logger) (chiTransport.RecordSource, error) {
	chunker, err := corpus.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("create chunker: %w", err)
	}
	return func(ctx context.Context) ([]builduc.Record, error) {
		docs, err := corpus.Load(ctx, cfg.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("load corpus %s: %w", cfg.Dir, err)
		}
		records := chunker.Records(docs)
		logger.Info("corpus loaded",
			zap.String("dir", cfg.Dir),
			zap.Int("documents", len(docs)),
			zap.Int("records", len(records)),
		)
		return records, nil
	}, nil
}

func retrievalOptions(cfg config.RetrievalConfig) retrieval.Options {
	opts := retrieval.DefaultOptions()
	opts.Strategy = retrieval.Strategy(cfg.Fusion)
	opts.Alpha = *cfg.Alpha
	opts.RRFK = cfg.RRFK
	opts.Width = cfg.Width
	opts.RerankWidth = cfg.RerankWidth
	opts.EmbedTimeout = time.Duration(cfg.EmbedTimeoutMs) * time.Millisecond
	opts.RerankTimeout = time.Duration(cfg.RerankTimeoutMs) * time.Millisecond
	opts.PrefilterThreshold = *cfg.PrefilterThreshold
	opts.RerankByDefault = *cfg.RerankByDefault
	return opts
}

// newRetrieval wires the read path over registry.
func newRetrieval(cfg config.Config, registry *snapshot.Registry, queryEmbedder domain.Embedder,
	exec *resilience.Executor, logger *zap.Logger,
) (*retrieval.Service, error) {
	reranker, err := newReranker(cfg, exec, logger)
	if err != nil {
		return nil, err
	}
	opts := retrievalOptions(cfg.Retrieval)
	opts.RerankConcurrency = cfg.Rerank.Concurrency
	svc, err := retrieval.New(registry, queryEmbedder, reranker, opts)
	if err != nil {
		return nil, fmt.Errorf("create retrieval service: %w", err)
	}
	return svc, nil
}
