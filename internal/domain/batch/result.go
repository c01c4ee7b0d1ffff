// Package batch describes what happened to each record of an index build.
package batch

import "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"

// ItemStatus is the processing outcome of a single record.
type ItemStatus string

// Record outcome values.
const (
	StatusIndexed  ItemStatus = "indexed"
	StatusSkipped  ItemStatus = "skipped"
	StatusExcluded ItemStatus = "excluded"
)

// Stage names the pipeline step a record was excluded at.
type Stage string

// Exclusion stages.
const (
	StageChunk     Stage = "chunk"
	StageEmbed     Stage = "embed"
	StageDimension Stage = "dimension"
)

// Result is the outcome of one input record. Skipped records carry no chunk id.
type Result struct {
	index  int
	id     chunk.ID
	source string
	status ItemStatus
	stage  Stage
	err    error
}

// NewIndexed creates a result for a record that made it into the snapshot.
func NewIndexed(index int, id chunk.ID, source string) Result {
	return Result{index: index, id: id, source: source, status: StatusIndexed}
}

// NewSkipped creates a result for a record with no usable text.
func NewSkipped(index int, source string) Result {
	return Result{index: index, source: source, status: StatusSkipped}
}

// NewExcluded creates a result for a record that failed at stage.
func NewExcluded(index int, id chunk.ID, source string, stage Stage, err error) Result {
	return Result{index: index, id: id, source: source, status: StatusExcluded, stage: stage, err: err}
}

// Index returns the record's position in the build input.
func (r Result) Index() int { return r.index }

// ID returns the assigned chunk id.
func (r Result) ID() chunk.ID { return r.id }

// Source returns the record's source document id.
func (r Result) Source() string { return r.source }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Stage returns where an excluded record failed.
func (r Result) Stage() Stage { return r.stage }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }
