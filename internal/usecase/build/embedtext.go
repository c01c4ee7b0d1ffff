package build

import (
	"fmt"
	"strings"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/index/sparse"
)

// EmbedText selects what text is sent to the embedding producer for each chunk.
type EmbedText string

const (
	// EmbedContent embeds the chunk text as is.
	EmbedContent EmbedText = "content"
	// EmbedKeywords appends the chunk's top TF-IDF terms, the strongest repeated most.
	EmbedKeywords EmbedText = "keywords"
	// EmbedSummaryPrefix prepends the extracted summary when there is one.
	EmbedSummaryPrefix EmbedText = "summary_prefix"
)

// DefaultKeywordCount is the number of terms EmbedKeywords appends.
const DefaultKeywordCount = 5

// IsValid reports whether e is a known variant.
func (e EmbedText) IsValid() bool {
	switch e {
	case EmbedContent, EmbedKeywords, EmbedSummaryPrefix:
		return true
	}
	return false
}

// embedInput renders the text embedded for c. stats is only consulted by EmbedKeywords.
func embedInput(variant EmbedText, c *chunk.Chunk, stats *sparse.Stats, keywords int) string {
	switch variant {
	case EmbedKeywords:
		terms := stats.TopTerms(c.TermVector(), keywords)
		if len(terms) == 0 {
			return c.Text()
		}
		var b strings.Builder
		b.WriteString(c.Text())
		b.WriteString("\nKEYWORDS:")
		for i, term := range terms {
			for range keywordRepeats(i) {
				b.WriteByte(' ')
				b.WriteString(term)
			}
		}
		return b.String()
	case EmbedSummaryPrefix:
		if m := c.Metadata(); m != nil && m.Summary != nil && *m.Summary != "" {
			return fmt.Sprintf("SUMMARY: %s\n%s", *m.Summary, c.Text())
		}
		return c.Text()
	default:
		return c.Text()
	}
}

func keywordRepeats(rank int) int {
	switch rank {
	case 0:
		return 3
	case 1:
		return 2
	default:
		return 1
	}
}
