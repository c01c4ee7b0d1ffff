package mode

// Mode selects which indexes a query consults.
type Mode string

// Retrieval modes.
const (
	// Hybrid queries both indexes and fuses the lists.
	Hybrid Mode = "hybrid"
	// Semantic queries the dense index only.
	Semantic Mode = "semantic"
	// Keyword queries the sparse index only and never calls the embedding producer.
	Keyword Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Keyword
}

// UsesDense reports whether the mode needs a query embedding.
func (m Mode) UsesDense() bool { return m == Hybrid || m == Semantic }

// UsesSparse reports whether the mode consults the sparse index.
func (m Mode) UsesSparse() bool { return m == Hybrid || m == Keyword }
