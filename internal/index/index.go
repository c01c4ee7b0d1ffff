// Package index holds what the sparse and dense indexes share: scored results,
// allow-lists and bounded top-k selection.
package index

import (
	"container/heap"
	"sort"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

// Scored is one search hit: a chunk reference and the index's raw score.
type Scored struct {
	ID    chunk.ID
	Score float64
}

// Allow restricts which chunk ids a search may return. Nil allows every id.
type Allow func(chunk.ID) bool

// Permits reports whether id passes the allow-list.
func (a Allow) Permits(id chunk.ID) bool { return a == nil || a(id) }

// Less orders hits by score descending, then id ascending.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// Sort orders hits in place by Less.
func Sort(hits []Scored) {
	sort.Slice(hits, func(i, j int) bool { return Less(hits[i], hits[j]) })
}

// TopK keeps the best limit hits seen so far.
type TopK struct {
	limit int
	h     worstFirst
}

// NewTopK creates a collector. limit <= 0 keeps nothing.
func NewTopK(limit int) *TopK {
	if limit < 0 {
		limit = 0
	}
	return &TopK{limit: limit, h: make(worstFirst, 0, min(limit, 1024))}
}

// Push offers a hit to the collector.
func (t *TopK) Push(s Scored) {
	if t.limit == 0 {
		return
	}
	if len(t.h) < t.limit {
		heap.Push(&t.h, s)
		return
	}
	if Less(s, t.h[0]) {
		t.h[0] = s
		heap.Fix(&t.h, 0)
	}
}

// Results returns the kept hits ordered by Less.
func (t *TopK) Results() []Scored {
	out := make([]Scored, len(t.h))
	copy(out, t.h)
	Sort(out)
	return out
}

// worstFirst is a heap whose root is the hit that would be evicted first.
type worstFirst []Scored

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return Less(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Scored)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
