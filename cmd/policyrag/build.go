package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	builduc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/build"
)

func newBuildCmd(a *app) *cobra.Command {
	var corpusDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and publish a new index snapshot from the corpus directory",
		Long: `Read every .txt, .md and .pdf file under the corpus directory, chunk it, extract
metadata (metadata.enabled), embed each chunk and write a new snapshot under
snapshot.root. The manifest is replaced atomically once the snapshot is on disk, so a
running server keeps answering from the previous snapshot until it reloads.

A record that fails extraction or embedding is excluded and reported; the build only
fails when nothing survives or the snapshot cannot be written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if corpusDir != "" {
				a.cfg.Corpus.Dir = corpusDir
			}
			return a.build(cmd.Context(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&corpusDir, "corpus", "", "corpus directory (default: corpus.dir from config)")
	return cmd
}

func (a *app) build(ctx context.Context, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger := a.cfg, a.logger
	registerMetrics()

	store, err := newSnapshotStore(cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	registry := snapshot.NewRegistry(logger)
	defer registry.Close()

	exec := newExecutor(cfg.Resilience, logger)

	cache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	bus, err := connectBus(cfg.NATS, exec, logger)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Close()
	}

	builder, err := newBuilder(cfg, buildEmbedder(cfg, cache, "", logger), store, registry, exec, bus, logger)
	if err != nil {
		return err
	}
	source, err := corpusSource(cfg.Corpus, logger)
	if err != nil {
		return err
	}
	records, err := source(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("corpus %s contains no readable documents", cfg.Corpus.Dir)
	}

	start := time.Now()
	m, err := builder.Run(ctx, records)
	status := builder.Status()
	printBuildStatus(out, status)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("build cancelled; previous snapshot kept")
		}
		return fmt.Errorf("build: %w", err)
	}
	logger.Info("build finished",
		zap.String("version", m.Version),
		zap.Int("chunks", m.ChunkCount),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func printBuildStatus(out io.Writer, s builduc.Status) {
	fmt.Fprintf(out, "state:     %s\n", s.State)
	if s.Version != "" {
		fmt.Fprintf(out, "version:   %s\n", s.Version)
	}
	if s.PreviousVersion != "" {
		fmt.Fprintf(out, "previous:  %s\n", s.PreviousVersion)
	}
	fmt.Fprintf(out, "records:   %d (indexed %d, skipped %d, excluded %d, enriched %d, enrich failed %d)\n",
		s.Records, s.Indexed, s.Skipped, s.Excluded, s.Enriched, s.EnrichFailed)
	for _, r := range s.Exclusions {
		fmt.Fprintf(out, "  excluded #%d %s at %s: %v\n", r.Index(), r.Source(), r.Stage(), r.Err())
	}
	if s.Error != "" {
		fmt.Fprintf(out, "error:     %s\n", s.Error)
	}
}
