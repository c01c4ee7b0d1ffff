package domain

import (
	"context"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
)

// Reranker scores how relevant chunkText is to query. Higher is better.
type Reranker interface {
	Score(ctx context.Context, query, chunkText string) (float64, error)
}

// BatchReranker scores many texts against one query in a single call.
// The result has one score per text, in input order.
type BatchReranker interface {
	ScoreBatch(ctx context.Context, query string, texts []string) ([]float64, error)
}

// MetadataExtractor derives structured metadata from chunk text. It returns nil, nil when
// the text is too short to classify.
type MetadataExtractor interface {
	Extract(ctx context.Context, text string) (*chunk.Metadata, error)
}
