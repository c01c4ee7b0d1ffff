package snapshot

import (
	"fmt"
	"sort"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/filter"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index"
)

// ChunkStore is the immutable canonical record of every chunk in a snapshot.
type ChunkStore struct {
	chunks []chunk.Chunk // ascending by id
	pos    map[chunk.ID]int
}

// Get returns the chunk with the given id.
func (s *ChunkStore) Get(id chunk.ID) (chunk.Chunk, error) {
	i, ok := s.pos[id]
	if !ok {
		return chunk.Chunk{}, fmt.Errorf("chunk %d: %w", id, domain.ErrNotFound)
	}
	return s.chunks[i], nil
}

// Has reports whether id exists.
func (s *ChunkStore) Has(id chunk.ID) bool {
	_, ok := s.pos[id]
	return ok
}

// AllIDs returns every chunk id in ascending order.
func (s *ChunkStore) AllIDs() []chunk.ID {
	ids := make([]chunk.ID, len(s.chunks))
	for i := range s.chunks {
		ids[i] = s.chunks[i].ID()
	}
	return ids
}

// Len returns the number of chunks.
func (s *ChunkStore) Len() int { return len(s.chunks) }

// ContentKey returns the dedup key of id, or "" when the id is unknown.
func (s *ChunkStore) ContentKey(id chunk.ID) string {
	i, ok := s.pos[id]
	if !ok {
		return ""
	}
	return s.chunks[i].ContentKey()
}

// Each calls fn for every chunk in id order until fn returns false.
func (s *ChunkStore) Each(fn func(c *chunk.Chunk) bool) {
	for i := range s.chunks {
		if !fn(&s.chunks[i]) {
			return
		}
	}
}

// Filter evaluates expr over every chunk's metadata and returns an allow-list of the
// matching ids together with the match count. An empty expression allows everything.
func (s *ChunkStore) Filter(expr filter.Expression) (index.Allow, int) {
	if expr.IsEmpty() {
		return nil, len(s.chunks)
	}
	allowed := make(map[chunk.ID]struct{})
	for i := range s.chunks {
		if expr.Matches(s.chunks[i].Metadata()) {
			allowed[s.chunks[i].ID()] = struct{}{}
		}
	}
	return func(id chunk.ID) bool {
		_, ok := allowed[id]
		return ok
	}, len(allowed)
}

// StoreBuilder accumulates chunks during a build. It is not safe for concurrent use.
type StoreBuilder struct {
	chunks []chunk.Chunk
	seen   map[chunk.ID]struct{}
	frozen bool
}

// NewStoreBuilder creates an empty builder.
func NewStoreBuilder(capacity int) *StoreBuilder {
	return &StoreBuilder{
		chunks: make([]chunk.Chunk, 0, capacity),
		seen:   make(map[chunk.ID]struct{}, capacity),
	}
}

// Append adds a chunk. Duplicate ids are rejected.
func (b *StoreBuilder) Append(c chunk.Chunk) error {
	if b.frozen {
		return fmt.Errorf("chunk store is frozen")
	}
	if _, dup := b.seen[c.ID()]; dup {
		return fmt.Errorf("%w: duplicate chunk id %d", domain.ErrInvalidInput, c.ID())
	}
	b.seen[c.ID()] = struct{}{}
	b.chunks = append(b.chunks, c)
	return nil
}

// Len returns the number of appended chunks.
func (b *StoreBuilder) Len() int { return len(b.chunks) }

// Freeze returns the immutable store. The builder cannot be used afterwards.
func (b *StoreBuilder) Freeze() *ChunkStore {
	b.frozen = true
	chunks := b.chunks
	b.chunks = nil
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID() < chunks[j].ID() })
	pos := make(map[chunk.ID]int, len(chunks))
	for i := range chunks {
		pos[chunks[i].ID()] = i
	}
	return &ChunkStore{chunks: chunks, pos: pos}
}
