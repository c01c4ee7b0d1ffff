package retrieval

import (
	"context"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// Snapshots leases the currently published snapshot.
type Snapshots interface {
	Acquire() (*snapshot.Handle, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
