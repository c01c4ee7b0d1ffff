package build

import (
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
)

func sparseStats(chunks ...chunk.Chunk) *sparse.Stats {
	docs := make([]sparse.Document, len(chunks))
	for i := range chunks {
		docs[i] = sparse.Document{ID: chunks[i].ID(), Terms: chunks[i].TermVector()}
	}
	return sparse.NewStats(docs)
}
