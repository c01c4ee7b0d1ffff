package request

import (
	"fmt"
	"strings"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/filter"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/mode"
)

// Retrieval parameter limits.
const (
	// MaxQueryLength is the maximum allowed query length in bytes.
	MaxQueryLength = 4096
	DefaultTopK    = 5
	MaxTopK        = 100
)

// Request is a validated retrieval query.
type Request struct {
	query      string
	searchMode mode.Mode
	filters    filter.Expression
	topK       int
	rerank     *bool
}

// New validates and normalizes retrieval parameters.
// Defaults: mode=hybrid, topK=DefaultTopK. topK above MaxTopK is clamped.
// rerank nil means "use the engine default".
func New(query string, m mode.Mode, filters filter.Expression, topK int, rerank *bool) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if m == "" {
		m = mode.Hybrid
	}
	if !m.IsValid() {
		return Request{}, fmt.Errorf("invalid search mode: %q", m)
	}
	if topK < 0 {
		return Request{}, fmt.Errorf("top_k must not be negative")
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	return Request{query: query, searchMode: m, filters: filters, topK: topK, rerank: rerank}, nil
}

// Query returns the trimmed query text.
func (r *Request) Query() string { return r.query }

// Mode returns the retrieval mode.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Filters returns the metadata predicate (empty matches everything).
func (r *Request) Filters() filter.Expression { return r.filters }

// TopK returns the number of hits to return.
func (r *Request) TopK() int { return r.topK }

// Rerank returns the per-request rerank override, nil when unset.
func (r *Request) Rerank() *bool { return r.rerank }
