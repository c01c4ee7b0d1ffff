package corpus

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/build"
)

// Default chunk geometry in bytes.
const (
	DefaultChunkSize    = 3000
	DefaultChunkOverlap = 200
)

// separators in order of preference.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits blocks into overlapping windows of at most Size bytes, cutting at
// the last natural break in the back half of each window.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker validates the geometry.
func NewChunker(size, overlap int) (Chunker, error) {
	if size < 2*utf8.UTFMax {
		return Chunker{}, fmt.Errorf("%w: chunk size %d is too small", domain.ErrInvalidInput, size)
	}
	if overlap < 0 || overlap >= size {
		return Chunker{}, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrInvalidInput, overlap, size)
	}
	return Chunker{Size: size, Overlap: overlap}, nil
}

// Records chunks every document, in document then block order.
func (c Chunker) Records(docs []Document) []build.Record {
	var out []build.Record
	for _, doc := range docs {
		for _, b := range doc.Blocks {
			text := b.Text
			if b.Heading != "" {
				text = b.Heading + "\n\n" + text
			}
			for _, piece := range c.Split(text) {
				out = append(out, build.Record{
					Text:             piece,
					SourceDocumentID: doc.Path,
					Heading:          b.Heading,
					Page:             b.Page,
				})
			}
		}
	}
	return out
}

// Split returns the trimmed, non-empty windows of text.
func (c Chunker) Split(text string) []string {
	var out []string
	n := len(text)
	pos := 0
	for pos < n {
		end := n
		if pos+c.Size < n {
			end = c.cut(text, pos, pos+c.Size)
		}
		if piece := strings.TrimSpace(text[pos:end]); piece != "" {
			out = append(out, piece)
		}
		if end >= n {
			break
		}
		next := runeStart(text, end-c.Overlap)
		if next <= pos {
			next = end
		}
		pos = next
	}
	return out
}

// cut picks the split point for the window [start, hardEnd).
func (c Chunker) cut(text string, start, hardEnd int) int {
	hardEnd = runeStart(text, hardEnd)
	if hardEnd <= start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	floor := start + (hardEnd-start)/2
	for _, sep := range separators {
		if idx := strings.LastIndex(text[floor:hardEnd], sep); idx >= 0 {
			return floor + idx + len(sep)
		}
	}
	return hardEnd
}

// runeStart moves i back to the start of the rune containing it.
func runeStart(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
