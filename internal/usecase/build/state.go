package build

import (
	"errors"
	"time"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/batch"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/metrics"
)

// ErrBuildInProgress is returned when Run is called while another build is running.
var ErrBuildInProgress = errors.New("index build already in progress")

// State is a step of the build state machine.
type State string

// Build states. A build moves forward through them in order and ends in
// StatePublished or StateFailed.
const (
	StateEmpty      State = "empty"
	StateIngesting  State = "ingesting"
	StateIndexing   State = "indexing"
	StatePersisting State = "persisting"
	StatePublished  State = "published"
	StateFailed     State = "failed"
)

var allStates = []State{StateEmpty, StateIngesting, StateIndexing, StatePersisting, StatePublished, StateFailed}

// Running reports whether s is an in-progress state.
func (s State) Running() bool {
	return s == StateIngesting || s == StateIndexing || s == StatePersisting
}

// maxReportedExclusions caps Status.Exclusions.
const maxReportedExclusions = 50

// outcomeEnrichFailed labels build_chunks_total for chunks indexed after a failed extraction.
const outcomeEnrichFailed = "enrich_failed"

// Record is one unit of build input: a chunk's text and where it came from.
type Record struct {
	Text             string
	SourceDocumentID string
	Heading          string
	Page             int
	// Metadata nil means "extract it" when an extractor is configured.
	Metadata *chunk.Metadata
}

// Status is a point-in-time view of the builder.
type Status struct {
	State           State
	Version         string
	PreviousVersion string
	StartedAt       time.Time
	FinishedAt      time.Time
	Records         int
	Skipped         int
	Excluded        int
	Indexed         int
	Enriched        int
	EnrichFailed    int // extraction errors; those chunks are indexed without metadata
	Error           string
	// Exclusions lists the first excluded records of the last build.
	Exclusions []batch.Result
}

func setStateMetric(s State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.BuildState.WithLabelValues(string(st)).Set(v)
	}
}
