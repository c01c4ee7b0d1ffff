package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/filter"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/mode"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/request"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/retrieval"
)

type retrieveFlags struct {
	topK    int
	mode    string
	filters []string
	rerank  bool
	asJSON  bool
}

func newRetrieveCmd(a *app) *cobra.Command {
	var f retrieveFlags

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Run one retrieval query against the snapshot on disk",
		Long: `Load the published snapshot from snapshot.root and print the top hits for a query.

Examples:
  policyrag retrieve "tuition waiver eligibility"
  policyrag retrieve "travel per diem" --top-k 3 --mode keyword
  policyrag retrieve "procurement thresholds" --filter category=Finance --filter year=2024`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rerank *bool
			if cmd.Flags().Changed("rerank") {
				rerank = &f.rerank
			}
			req, err := f.request(args[0], a.cfg.Retrieval.DefaultTopK, rerank)
			if err != nil {
				return err
			}
			return a.retrieve(cmd.Context(), cmd.OutOrStdout(), req, f.asJSON)
		},
	}
	cmd.Flags().IntVar(&f.topK, "top-k", 0, "number of hits (default: retrieval.default_top_k)")
	cmd.Flags().StringVar(&f.mode, "mode", string(mode.Hybrid), "hybrid, semantic or keyword")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "metadata filter key=value, repeatable (all must match)")
	cmd.Flags().BoolVar(&f.rerank, "rerank", false, "force reranking on or off (default: retrieval.rerank_by_default)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print hits as JSON")
	return cmd
}

func (f retrieveFlags) request(query string, defaultTopK int, rerank *bool) (request.Request, error) {
	must := make([]filter.Condition, 0, len(f.filters))
	for _, raw := range f.filters {
		c, err := filter.ParseMatch(raw)
		if err != nil {
			return request.Request{}, fmt.Errorf("--filter: %w", err)
		}
		must = append(must, c)
	}
	expr, err := filter.NewExpression(must, nil, nil)
	if err != nil {
		return request.Request{}, fmt.Errorf("--filter: %w", err)
	}
	topK := f.topK
	if topK == 0 {
		topK = defaultTopK
	}
	req, err := request.New(query, mode.Mode(f.mode), expr, topK, rerank)
	if err != nil {
		return request.Request{}, fmt.Errorf("invalid query: %w", err)
	}
	return req, nil
}

func (a *app) retrieve(ctx context.Context, out io.Writer, req request.Request, asJSON bool) error {
	cfg, logger := a.cfg, a.logger
	registerMetrics()

	store, err := newSnapshotStore(cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	registry := snapshot.NewRegistry(logger)
	defer registry.Close()
	published, err := snapshot.NewReloader(store, registry, logger).Reload(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if !published {
		return fmt.Errorf("no snapshot under %s; run 'policyrag build' first", cfg.Snapshot.Root)
	}

	cache, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	exec := newExecutor(cfg.Resilience, logger)
	svc, err := newRetrieval(cfg, registry, buildEmbedder(cfg, cache, cfg.Embedding.QueryInstruction, logger), exec, logger)
	if err != nil {
		return err
	}
	resp, err := svc.Retrieve(ctx, req)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if asJSON {
		return printHitsJSON(out, resp)
	}
	printHits(out, resp)
	return nil
}

const snippetRunes = 280

func printHits(out io.Writer, resp retrieval.Response) {
	fmt.Fprintf(out, "snapshot %s, %d hit(s)", resp.SnapshotVersion, len(resp.Hits))
	if resp.Collapsed > 0 {
		fmt.Fprintf(out, ", %d duplicate(s) collapsed", resp.Collapsed)
	}
	if resp.Reranked {
		fmt.Fprint(out, ", reranked")
	}
	fmt.Fprintln(out)
	for i := range resp.Hits {
		h := &resp.Hits[i]
		fmt.Fprintf(out, "\n%d. [%.4f] %s (chunk %s)\n", i+1, h.Score(), h.Chunk.Citation(), h.Chunk.ID())
		if heading := h.Chunk.Heading(); heading != "" {
			fmt.Fprintf(out, "   %s\n", heading)
		}
		fmt.Fprintf(out, "   %s\n", snippet(h.Chunk.Text(), snippetRunes))
	}
}

type jsonHit struct {
	ChunkID  string  `json:"chunk_id"`
	Score    float64 `json:"score"`
	Citation string  `json:"citation"`
	Heading  string  `json:"heading,omitempty"`
	Text     string  `json:"text"`
}

func printHitsJSON(out io.Writer, resp retrieval.Response) error {
	hits := make([]jsonHit, len(resp.Hits))
	for i := range resp.Hits {
		h := &resp.Hits[i]
		hits[i] = jsonHit{
			ChunkID:  h.Chunk.ID().String(),
			Score:    h.Score(),
			Citation: h.Chunk.Citation(),
			Heading:  h.Chunk.Heading(),
			Text:     h.Chunk.Text(),
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"snapshot_version": resp.SnapshotVersion,
		"collapsed":        resp.Collapsed,
		"reranked":         resp.Reranked,
		"hits":             hits,
	})
}

// snippet flattens whitespace and cuts s to at most n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
