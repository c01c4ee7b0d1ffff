package retrieval

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/result"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index"
)

// Strategy selects how the two ranked lists are combined.
type Strategy string

const (
	// StrategyWeighted mixes min-max normalised scores: alpha*dense + (1-alpha)*sparse.
	StrategyWeighted Strategy = "weighted"
	// StrategyRRF sums reciprocal ranks (Cormack et al. 2009), scaled into [0,1].
	StrategyRRF Strategy = "rrf"
)

// DefaultAlpha weighs both indexes equally.
const DefaultAlpha = 0.5

// DefaultRRFK is the standard Reciprocal Rank Fusion constant.
const DefaultRRFK = 60

// ContentKeys resolves a chunk id to the hash of its whitespace-normalised text.
type ContentKeys interface {
	ContentKey(id chunk.ID) string
}

// FusionOptions configures Fuse.
type FusionOptions struct {
	Strategy Strategy
	Alpha    float64
	RRFK     int
	// Width truncates the deduplicated list. Zero keeps everything.
	Width int
	// Allow drops candidates after scoring and before dedup (post-filtering).
	Allow index.Allow
}

// Validate rejects out-of-range settings.
func (o FusionOptions) Validate() error {
	switch o.Strategy {
	case StrategyWeighted, StrategyRRF, "":
	default:
		return fmt.Errorf("%w: unknown fusion strategy %q", domain.ErrInvalidInput, o.Strategy)
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0,1], got %v", domain.ErrInvalidInput, o.Alpha)
	}
	if o.RRFK < 0 || o.Width < 0 {
		return fmt.Errorf("%w: rrf_k and width must be non-negative", domain.ErrInvalidInput)
	}
	return nil
}

// Fused is a deduplicated candidate list ordered by fused score.
type Fused struct {
	Candidates []result.Candidate
	// Collapsed counts candidates dropped as duplicates of a better-scored chunk.
	Collapsed int
}

// Fuse merges dense and sparse hits into one ranked, deduplicated list. Both inputs
// empty yields an empty Fused.
func Fuse(dense, sparse []index.Scored, keys ContentKeys, opts FusionOptions) Fused {
	if len(dense) == 0 && len(sparse) == 0 {
		return Fused{}
	}
	var merged map[chunk.ID]*result.Candidate
	if opts.Strategy == StrategyRRF {
		merged = mergeRRF(dense, sparse, opts.RRFK)
	} else {
		merged = mergeWeighted(dense, sparse, clamp01(opts.Alpha))
	}

	cands := make([]result.Candidate, 0, len(merged))
	for _, c := range merged {
		if !opts.Allow.Permits(c.ChunkID) {
			continue
		}
		cands = append(cands, *c)
	}
	sortByFused(cands)

	out, collapsed := dedup(cands, keys)
	if opts.Width > 0 && len(out) > opts.Width {
		out = out[:opts.Width]
	}
	return Fused{Candidates: out, Collapsed: collapsed}
}

func mergeWeighted(dense, sparse []index.Scored, alpha float64) map[chunk.ID]*result.Candidate {
	merged := make(map[chunk.ID]*result.Candidate, len(dense)+len(sparse))
	get := func(id chunk.ID) *result.Candidate {
		c, ok := merged[id]
		if !ok {
			c = &result.Candidate{ChunkID: id}
			merged[id] = c
		}
		return c
	}
	dn := minMax(dense)
	for i, h := range dense {
		c := get(h.ID)
		c.DenseScore, c.InDense = dn[i], true
	}
	sn := minMax(sparse)
	for i, h := range sparse {
		c := get(h.ID)
		c.SparseScore, c.InSparse = sn[i], true
	}
	for _, c := range merged {
		c.FusedScore = clamp01(alpha*c.DenseScore + (1-alpha)*c.SparseScore)
	}
	return merged
}

// mergeRRF ranks by position only. Per-list scores are each list's reciprocal rank
// scaled so rank 1 maps to 1.0; the fused score is their sum over the best possible sum.
func mergeRRF(dense, sparse []index.Scored, k int) map[chunk.ID]*result.Candidate {
	if k <= 0 {
		k = DefaultRRFK
	}
	merged := make(map[chunk.ID]*result.Candidate, len(dense)+len(sparse))
	get := func(id chunk.ID) *result.Candidate {
		c, ok := merged[id]
		if !ok {
			c = &result.Candidate{ChunkID: id}
			merged[id] = c
		}
		return c
	}
	rr := func(rank int) float64 { return float64(k+1) / float64(k+rank+1) }
	for rank, h := range dense {
		c := get(h.ID)
		c.DenseScore, c.InDense = rr(rank), true
	}
	for rank, h := range sparse {
		c := get(h.ID)
		c.SparseScore, c.InSparse = rr(rank), true
	}
	lists := 0
	if len(dense) > 0 {
		lists++
	}
	if len(sparse) > 0 {
		lists++
	}
	for _, c := range merged {
		c.FusedScore = clamp01((c.DenseScore + c.SparseScore) / float64(lists))
	}
	return merged
}

// minMax maps raw scores to [0,1]. A single hit or a zero range maps to 1.0.
func minMax(hits []index.Scored) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	span := hi - lo
	for i, h := range hits {
		if span <= 0 {
			out[i] = 1
			continue
		}
		out[i] = clamp01((h.Score - lo) / span)
	}
	return out
}

// dedup keeps the first candidate per content key. cands must already be ordered
// best-first, so the survivor is the highest fused score with ties to the lower id.
func dedup(cands []result.Candidate, keys ContentKeys) ([]result.Candidate, int) {
	seen := make(map[string]struct{}, len(cands))
	out := make([]result.Candidate, 0, len(cands))
	for _, c := range cands {
		key := keys.ContentKey(c.ChunkID)
		if key == "" {
			key = "id:" + strconv.FormatUint(uint64(c.ChunkID), 10)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out, len(cands) - len(out)
}

func sortByFused(cands []result.Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FusedScore != cands[j].FusedScore {
			return cands[i].FusedScore > cands[j].FusedScore
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
