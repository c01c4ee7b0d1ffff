// Package snapshot owns the immutable, versioned bundle that queries run against:
// the chunk store, both indexes and the manifest describing them. It also persists
// snapshots to disk and publishes them to readers through a reference-counted registry.
package snapshot

import (
	"fmt"
	"time"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/dense"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
)

// ManifestFormat is the current manifest layout version.
const ManifestFormat = 1

// Manifest describes a persisted snapshot. It is the only file ever overwritten on disk.
type Manifest struct {
	Format         int          `json:"format"`
	Version        string       `json:"version"`
	Dir            string       `json:"dir,omitempty"`
	Dimension      int          `json:"embedding_dimension"`
	Metric         dense.Metric `json:"metric"`
	EmbeddingModel string       `json:"embedding_model,omitempty"`
	ChunkCount     int          `json:"chunk_count"`
	NextChunkID    chunk.ID     `json:"next_chunk_id"`
	BuiltAt        time.Time    `json:"built_at"`
	ContentHash    string       `json:"content_hash,omitempty"`
}

// Precedes reports whether m is an earlier build than o. Every build continues chunk
// ids from its predecessor, so NextChunkID orders builds; BuiltAt breaks ties.
func (m Manifest) Precedes(o Manifest) bool {
	if m.NextChunkID != o.NextChunkID {
		return m.NextChunkID < o.NextChunkID
	}
	return m.BuiltAt.Before(o.BuiltAt)
}

// Snapshot is immutable once constructed.
type Snapshot struct {
	manifest Manifest
	chunks   *ChunkStore
	sparse   *sparse.Index
	dense    *dense.Index
}

// New assembles a snapshot and checks that its parts agree: every indexed id exists in
// the chunk store, and the dense dimension matches the manifest.
func New(m Manifest, chunks *ChunkStore, sp *sparse.Index, de *dense.Index) (*Snapshot, error) {
	if m.Version == "" {
		return nil, fmt.Errorf("%w: snapshot version is required", domain.ErrInvalidInput)
	}
	if chunks == nil || sp == nil || de == nil {
		return nil, fmt.Errorf("%w: snapshot %s is missing a component", domain.ErrInvalidInput, m.Version)
	}
	if de.Dimension() != m.Dimension {
		return nil, fmt.Errorf("snapshot %s: %w", m.Version, domain.NewDimensionMismatch(m.Dimension, de.Dimension()))
	}
	if chunks.Len() != m.ChunkCount {
		return nil, fmt.Errorf("%w: snapshot %s manifest says %d chunks, store has %d",
			domain.ErrInvalidInput, m.Version, m.ChunkCount, chunks.Len())
	}
	for _, ids := range [][]chunk.ID{sp.IDs(), de.IDs()} {
		for _, id := range ids {
			if !chunks.Has(id) {
				return nil, fmt.Errorf("%w: snapshot %s indexes unknown chunk %d", domain.ErrInvalidInput, m.Version, id)
			}
		}
	}
	return &Snapshot{manifest: m, chunks: chunks, sparse: sp, dense: de}, nil
}

// Manifest returns the snapshot's manifest.
func (s *Snapshot) Manifest() Manifest { return s.manifest }

// Version returns the snapshot version id.
func (s *Snapshot) Version() string { return s.manifest.Version }

// Chunks returns the chunk store.
func (s *Snapshot) Chunks() *ChunkStore { return s.chunks }

// Sparse returns the keyword index.
func (s *Snapshot) Sparse() *sparse.Index { return s.sparse }

// Dense returns the vector index.
func (s *Snapshot) Dense() *dense.Index { return s.dense }

// Dimension returns the embedding dimension shared by every chunk.
func (s *Snapshot) Dimension() int { return s.manifest.Dimension }

// withManifest returns a copy carrying the persisted manifest.
func (s *Snapshot) withManifest(m Manifest) *Snapshot {
	c := *s
	c.manifest = m
	return &c
}
