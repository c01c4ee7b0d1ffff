package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/text"
)

// ID identifies a chunk. IDs are assigned at build time and never reused across builds.
type ID uint64

// String formats the id in decimal.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseID parses a decimal chunk id.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk id %q", s)
	}
	return ID(n), nil
}

// Chunk is the smallest retrievable unit of corpus text (immutable value object).
type Chunk struct {
	id               ID
	text             string
	sourceDocumentID string
	heading          string
	page             int
	metadata         *Metadata
	embedding        []float32
	terms            text.TermVector
	contentKey       string
}

// New validates and creates a Chunk. The term vector and content key are derived from text.
func New(id ID, body, sourceDocumentID string, metadata *Metadata) (Chunk, error) {
	if strings.TrimSpace(body) == "" {
		return Chunk{}, fmt.Errorf("chunk %d: text is required", id)
	}
	return Chunk{
		id:               id,
		text:             body,
		sourceDocumentID: sourceDocumentID,
		metadata:         metadata.Clone(),
		terms:            text.Analyze(body),
		contentKey:       text.ContentKey(body),
	}, nil
}

// Reconstruct creates a Chunk without validation (snapshot hydration).
func Reconstruct(
	id ID, body, sourceDocumentID, heading string, page int,
	metadata *Metadata, embedding []float32, terms text.TermVector, contentKey string,
) Chunk {
	return Chunk{
		id: id, text: body, sourceDocumentID: sourceDocumentID,
		heading: heading, page: page, metadata: metadata,
		embedding: embedding, terms: terms, contentKey: contentKey,
	}
}

// ID returns the chunk identifier.
func (c *Chunk) ID() ID { return c.id }

// Text returns the literal chunk content.
func (c *Chunk) Text() string { return c.text }

// SourceDocumentID returns the originating document reference.
func (c *Chunk) SourceDocumentID() string { return c.sourceDocumentID }

// Heading returns the closest heading above the chunk, if the loader found one.
func (c *Chunk) Heading() string { return c.heading }

// Page returns the 1-based source page, 0 when unknown.
func (c *Chunk) Page() int { return c.page }

// Metadata returns the optional metadata record (nil when absent).
func (c *Chunk) Metadata() *Metadata { return c.metadata }

// Embedding returns the embedding vector.
func (c *Chunk) Embedding() []float32 { return c.embedding }

// Dimension returns the embedding length.
func (c *Chunk) Dimension() int { return len(c.embedding) }

// TermVector returns the term frequencies derived from the text.
func (c *Chunk) TermVector() text.TermVector { return c.terms }

// ContentKey returns the whitespace-normalised content hash used for dedup.
func (c *Chunk) ContentKey() string { return c.contentKey }

// Citation formats a human-readable source reference.
func (c *Chunk) Citation() string {
	src := c.sourceDocumentID
	if c.metadata != nil && c.metadata.Title != nil && *c.metadata.Title != "" {
		src = *c.metadata.Title
	}
	if c.page > 0 {
		return fmt.Sprintf("%s – page %d", src, c.page)
	}
	return src
}

// WithLocation returns a copy carrying heading and page.
func (c Chunk) WithLocation(heading string, page int) Chunk {
	c.heading = heading
	c.page = page
	return c
}

// WithEmbedding returns a copy with the given vector set.
func (c Chunk) WithEmbedding(v []float32) Chunk {
	c.embedding = v
	return c
}

// WithMetadata returns a copy with the given metadata set.
func (c Chunk) WithMetadata(m *Metadata) Chunk {
	c.metadata = m.Clone()
	return c
}
