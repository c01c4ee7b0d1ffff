package health

import (
	"context"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// SnapshotSource reports the published snapshot.
type SnapshotSource interface {
	Current() (snapshot.Manifest, bool)
}

// Pinger checks availability of an optional dependency such as the embedding cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
