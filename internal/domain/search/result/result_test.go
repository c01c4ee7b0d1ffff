package result

import (
	"testing"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

func TestHit_Score(t *testing.T) {
	ch, err := chunk.New(3, "Policies for Managing Custodial Funds", "doc", nil)
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}

	h := NewHit(Candidate{ChunkID: 3, FusedScore: 0.4}, ch)
	if h.Score() != 0.4 {
		t.Errorf("Score() = %v, want fused 0.4", h.Score())
	}
	if h.Chunk.ID() != 3 {
		t.Errorf("Chunk.ID() = %d", h.Chunk.ID())
	}

	rs := 2.5
	h.RerankScore = &rs
	if h.Score() != 2.5 {
		t.Errorf("Score() = %v, want rerank 2.5", h.Score())
	}
}
