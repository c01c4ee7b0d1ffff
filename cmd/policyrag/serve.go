package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	logpkg "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/logger"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	chiTransport "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/transport/chi"
	healthuc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/health"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/version"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval API over the published snapshot",
		Long: `Start the HTTP API. The newest snapshot on disk is loaded at startup. Later
snapshots are picked up when the manifest changes on disk (snapshot.watch), when a
snapshot.published event arrives over NATS (nats.enabled), or when a rebuild is
triggered through POST /v1/index/rebuild.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger := a.cfg, a.logger
	logger.Info("Starting policyrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("snapshot_root", cfg.Snapshot.Root),
	)

	registerMetrics()

	store, err := newSnapshotStore(cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	registry := snapshot.NewRegistry(logger)
	defer registry.Close()

	reloader := snapshot.NewReloader(store, registry, logger)
	published, err := reloader.Reload(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if published {
		m, _ := registry.Current()
		logger.Info("Snapshot loaded", zap.String("version", m.Version), zap.Int("chunks", m.ChunkCount))
	} else {
		logger.Warn("No snapshot on disk; queries fail until the first build publishes one")
	}

	exec := newExecutor(cfg.Resilience, logger)

	cache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	docEmbedder := buildEmbedder(cfg, cache, "", logger)
	queryEmbedder := buildEmbedder(cfg, cache, cfg.Embedding.QueryInstruction, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	bus, err := connectBus(cfg.NATS, exec, logger)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Close()
	}

	builder, err := newBuilder(cfg, docEmbedder, store, registry, exec, bus, logger)
	if err != nil {
		return err
	}
	records, err := corpusSource(cfg.Corpus, logger)
	if err != nil {
		return err
	}
	retrievalSvc, err := newRetrieval(cfg, registry, queryEmbedder, exec, logger)
	if err != nil {
		return err
	}

	// Pass a nil interface, not a typed nil pointer, when the cache is off.
	var cachePinger healthuc.Pinger
	if cache != nil {
		cachePinger = cache
	}
	healthSvc := healthuc.New(registry, &embeddingHealthChecker{embedder: docEmbedder}, cachePinger)

	server := chiTransport.NewServer(retrievalSvc, builder, records, healthSvc, logger,
		chiTransport.WithTopKLimits(cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxTopK),
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Snapshot.Watch {
		w := snapshot.NewWatcher(reloader, store.Root(), 0, logger)
		g.Go(func() error { return w.Run(gctx) })
	}
	if bus != nil {
		g.Go(func() error { return bus.SubscribeSnapshots(gctx, reloader) })
	}
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		// Rebuilds must stop before the deferred registry.Close.
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi's RequestID middleware has already stored the id
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
				zap.String("embedding_tokens", ww.Header().Get("X-Embedding-Tokens")),
			)
		})
	}
}
