package build

import (
	"context"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/resilience"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
)

// Embedder vectorizes chunk text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Persister writes snapshots to durable storage.
type Persister interface {
	LoadManifest() (snapshot.Manifest, error)
	Save(ctx context.Context, snap *snapshot.Snapshot) (*snapshot.Snapshot, error)
	Prune(keep int) ([]string, error)
}

// Publisher makes a snapshot visible to queries.
type Publisher interface {
	Publish(snap *snapshot.Snapshot) string
}

// Notifier tells other processes that a snapshot was published.
type Notifier interface {
	SnapshotPublished(ctx context.Context, m snapshot.Manifest) error
}

// Executor runs provider calls with retries and a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, operation string, fn func(context.Context) error, classifier resilience.ErrorClassifier) error
}
