// Package sparse implements the keyword index: TF-IDF weighted term vectors scored by
// cosine similarity through an inverted index.
package sparse

import (
	"math"
	"sort"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/text"
)

// Document is the index input for one chunk.
type Document struct {
	ID    chunk.ID
	Terms text.TermVector
}

// Stats holds corpus-level document frequencies.
type Stats struct {
	n  int
	df map[string]int
}

// NewStats counts document frequencies over docs.
func NewStats(docs []Document) *Stats {
	df := make(map[string]int)
	for _, d := range docs {
		for term, tf := range d.Terms {
			if tf > 0 {
				df[term]++
			}
		}
	}
	return &Stats{n: len(docs), df: df}
}

// N returns the number of documents counted.
func (s *Stats) N() int { return s.n }

// IDF returns ln(N/df) for a known term and 0 otherwise.
func (s *Stats) IDF(term string) float64 {
	df := s.df[term]
	if df == 0 || s.n == 0 {
		return 0
	}
	return math.Log(float64(s.n) / float64(df))
}

// Weigh converts a term vector to its L2-normalised TF-IDF form. Terms outside the
// vocabulary or with zero IDF are dropped. The result is empty when nothing remains.
func (s *Stats) Weigh(v text.TermVector) map[string]float64 {
	w := make(map[string]float64, len(v))
	var norm float64
	for term, tf := range v {
		x := float64(tf) * s.IDF(term)
		if x <= 0 {
			continue
		}
		w[term] = x
		norm += x * x
	}
	if norm == 0 {
		return map[string]float64{}
	}
	norm = math.Sqrt(norm)
	for term := range w {
		w[term] /= norm
	}
	return w
}

// TopTerms returns up to k terms of v with the highest TF-IDF weight, skipping stopwords.
// Ties resolve lexically.
func (s *Stats) TopTerms(v text.TermVector, k int) []string {
	type tw struct {
		term string
		w    float64
	}
	cands := make([]tw, 0, len(v))
	for term, tf := range v {
		if text.IsStopword(term) {
			continue
		}
		if w := float64(tf) * s.IDF(term); w > 0 {
			cands = append(cands, tw{term, w})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].w != cands[j].w {
			return cands[i].w > cands[j].w
		}
		return cands[i].term < cands[j].term
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.term
	}
	return out
}

type posting struct {
	ID     chunk.ID `json:"i"`
	Weight float64  `json:"w"`
}

// Index is an immutable inverted index over normalised TF-IDF vectors.
type Index struct {
	stats    *Stats
	ids      []chunk.ID
	postings map[string][]posting
}

// Build indexes docs. Duplicate ids keep the first document.
func Build(docs []Document) *Index {
	sorted := make([]Document, 0, len(docs))
	seen := make(map[chunk.ID]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	stats := NewStats(sorted)
	ix := &Index{
		stats:    stats,
		ids:      make([]chunk.ID, len(sorted)),
		postings: make(map[string][]posting, len(stats.df)),
	}
	for i, d := range sorted {
		ix.ids[i] = d.ID
		for term, w := range stats.Weigh(d.Terms) {
			ix.postings[term] = append(ix.postings[term], posting{ID: d.ID, Weight: w})
		}
	}
	return ix
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int { return len(ix.ids) }

// IDs returns the indexed chunk ids in ascending order.
func (ix *Index) IDs() []chunk.ID { return ix.ids }

// VocabularySize returns the number of distinct indexed terms.
func (ix *Index) VocabularySize() int { return len(ix.stats.df) }

// Stats exposes the document frequencies the index was built with.
func (ix *Index) Stats() *Stats { return ix.stats }

// Search scores every document sharing a term with the query and returns the best
// limit hits by cosine similarity. Unknown query terms contribute nothing.
// Documents with zero similarity are never returned.
func (ix *Index) Search(query text.TermVector, limit int, allow index.Allow) []index.Scored {
	if limit <= 0 || len(ix.ids) == 0 {
		return nil
	}
	qw := ix.stats.Weigh(query)
	if len(qw) == 0 {
		return nil
	}

	// fixed term order keeps floating-point sums reproducible across calls
	terms := make([]string, 0, len(qw))
	for term := range qw {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	acc := make(map[chunk.ID]float64)
	for _, term := range terms {
		w := qw[term]
		for _, p := range ix.postings[term] {
			if !allow.Permits(p.ID) {
				continue
			}
			acc[p.ID] += w * p.Weight
		}
	}

	top := index.NewTopK(limit)
	for id, score := range acc {
		if score > 0 {
			top.Push(index.Scored{ID: id, Score: score})
		}
	}
	return top.Results()
}
