package result

import (
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

// Candidate is a transient scored reference to a chunk. Scores fill in as the candidate
// moves through fusion and reranking; it never owns chunk data.
type Candidate struct {
	ChunkID     chunk.ID
	DenseScore  float64 // normalised to [0,1], 0 when absent from the dense list
	SparseScore float64 // normalised to [0,1], 0 when absent from the sparse list
	FusedScore  float64
	RerankScore *float64
	InDense     bool
	InSparse    bool
}

// Hit is a final result: a candidate resolved against the snapshot's chunk store.
type Hit struct {
	Candidate
	Chunk chunk.Chunk
}

// NewHit pairs a candidate with its chunk.
func NewHit(c Candidate, ch chunk.Chunk) Hit {
	return Hit{Candidate: c, Chunk: ch}
}

// Score returns the score that determined the hit's final position.
func (h *Hit) Score() float64 {
	if h.RerankScore != nil {
		return *h.RerankScore
	}
	return h.FusedScore
}
