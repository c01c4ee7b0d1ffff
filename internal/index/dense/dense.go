// Package dense implements exact nearest-neighbour search over chunk embeddings.
// Search is a full scan, so recall is exact and ties resolve by chunk id.
package dense

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index"
)

// Metric is the similarity function.
type Metric string

// Supported metrics.
const (
	// MetricCosine normalises stored and query vectors, then takes the inner product.
	MetricCosine Metric = "cosine"
	// MetricInnerProduct uses vectors as the embedding producer returns them.
	MetricInnerProduct Metric = "ip"
)

// IsValid checks if the metric is supported.
func (m Metric) IsValid() bool { return m == MetricCosine || m == MetricInnerProduct }

// Entry is the index input for one chunk.
type Entry struct {
	ID     chunk.ID
	Vector []float32
}

// Index is an immutable flat vector index.
type Index struct {
	dim    int
	metric Metric
	ids    []chunk.ID
	data   []float32 // row-major, len(ids)*dim
}

// ErrZeroNorm marks an all-zero vector. It also matches domain.ErrInvalidInput.
var ErrZeroNorm = errors.New("zero-norm vector")

// Validate rejects vectors that must never be indexed: empty, non-finite or zero-norm.
func Validate(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	var norm float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component at %d", domain.ErrInvalidInput, i)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, ErrZeroNorm)
	}
	return nil
}

// Build creates an index of the given dimension. Every entry must have that dimension,
// pass Validate and carry a unique id.
func Build(dim int, metric Metric, entries []Entry) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", domain.ErrInvalidInput)
	}
	if !metric.IsValid() {
		return nil, fmt.Errorf("%w: unknown metric %q", domain.ErrInvalidInput, metric)
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ix := &Index{
		dim:    dim,
		metric: metric,
		ids:    make([]chunk.ID, len(sorted)),
		data:   make([]float32, 0, len(sorted)*dim),
	}
	for i, e := range sorted {
		if i > 0 && sorted[i-1].ID == e.ID {
			return nil, fmt.Errorf("%w: duplicate chunk id %d", domain.ErrInvalidInput, e.ID)
		}
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("chunk %d: %w", e.ID, domain.NewDimensionMismatch(dim, len(e.Vector)))
		}
		if err := Validate(e.Vector); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", e.ID, err)
		}
		ix.ids[i] = e.ID
		ix.data = append(ix.data, ix.prepare(e.Vector)...)
	}
	return ix, nil
}

// Dimension returns the embedding dimension.
func (ix *Index) Dimension() int { return ix.dim }

// Metric returns the similarity metric.
func (ix *Index) Metric() Metric { return ix.metric }

// Len returns the number of indexed vectors.
func (ix *Index) Len() int { return len(ix.ids) }

// IDs returns the indexed chunk ids in ascending order.
func (ix *Index) IDs() []chunk.ID { return ix.ids }

// Search returns the limit most similar chunks to query.
func (ix *Index) Search(query []float32, limit int, allow index.Allow) ([]index.Scored, error) {
	if len(query) != ix.dim {
		return nil, domain.NewDimensionMismatch(ix.dim, len(query))
	}
	if err := Validate(query); err != nil {
		// An all-zero query has no direction: it matches nothing rather than failing.
		if errors.Is(err, ErrZeroNorm) {
			return nil, nil
		}
		return nil, fmt.Errorf("query vector: %w", err)
	}
	if limit <= 0 || len(ix.ids) == 0 {
		return nil, nil
	}
	q := ix.prepare(query)

	top := index.NewTopK(limit)
	for i, id := range ix.ids {
		if !allow.Permits(id) {
			continue
		}
		row := ix.data[i*ix.dim : (i+1)*ix.dim]
		top.Push(index.Scored{ID: id, Score: dot(q, row)})
	}
	return top.Results(), nil
}

func (ix *Index) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if ix.metric == MetricCosine {
		normalize(out)
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
