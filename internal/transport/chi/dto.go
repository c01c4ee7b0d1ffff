package chi

import (
	"fmt"
	"net/url"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/batch"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/filter"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/mode"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/request"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	builduc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/build"
	healthuc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/health"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/retrieval"
)

// errorCode is the machine-readable code of an error response.
type errorCode string

// Error codes.
const (
	codeBadRequest            errorCode = "bad_request"
	codeValidationFailed      errorCode = "validation_failed"
	codeUnauthorized          errorCode = "unauthorized"
	codeNotFound              errorCode = "not_found"
	codeDimensionMismatch     errorCode = "dimension_mismatch"
	codeBuildInProgress       errorCode = "build_in_progress"
	codeRateLimited           errorCode = "rate_limited"
	codeDependencyUnavailable errorCode = "dependency_unavailable"
	codeTimeout               errorCode = "timeout"
	codeNotImplemented        errorCode = "not_implemented"
	codeShuttingDown          errorCode = "shutting_down"
	codeInternalError         errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type rangeCondition struct {
	GT  *float64 `json:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
}

type filterCondition struct {
	Key   string          `json:"key"`
	Match *string         `json:"match,omitempty"`
	Range *rangeCondition `json:"range,omitempty"`
}

type filterExpression struct {
	Must    []filterCondition `json:"must,omitempty"`
	Should  []filterCondition `json:"should,omitempty"`
	MustNot []filterCondition `json:"must_not,omitempty"`
}

type retrieveRequest struct {
	Query  string            `json:"query"`
	TopK   *int              `json:"top_k,omitempty"`
	Mode   *string           `json:"mode,omitempty"`
	Filter *filterExpression `json:"filter,omitempty"`
	Rerank *bool             `json:"rerank,omitempty"`
}

// topKLimits bound the top_k a client may ask for.
type topKLimits struct {
	def int
	max int
}

func defaultTopKLimits() topKLimits {
	return topKLimits{def: request.DefaultTopK, max: request.MaxTopK}
}

func (req retrieveRequest) toDomain(lim topKLimits) (request.Request, error) {
	topK := lim.def
	if req.TopK != nil {
		if *req.TopK <= 0 || *req.TopK > lim.max {
			return request.Request{}, fmt.Errorf("top_k must be between 1 and %d", lim.max)
		}
		topK = *req.TopK
	}
	var m mode.Mode
	if req.Mode != nil {
		m = mode.Mode(*req.Mode)
	}
	filters, err := filtersFromDTO(req.Filter)
	if err != nil {
		return request.Request{}, fmt.Errorf("parse filters: %w", err)
	}
	r, err := request.New(req.Query, m, filters, topK, req.Rerank)
	if err != nil {
		return request.Request{}, fmt.Errorf("build retrieve request: %w", err)
	}
	return r, nil
}

// retrieveParams are the query parameters of GET /v1/retrieve.
type retrieveParams struct {
	Q      string
	TopK   *int
	Mode   *string
	Filter []string
	Rerank *bool
}

func bindRetrieveParams(q url.Values) (retrieveParams, error) {
	var p retrieveParams
	if err := runtime.BindQueryParameter("form", true, true, "q", q, &p.Q); err != nil {
		return p, fmt.Errorf("invalid format for parameter q: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "top_k", q, &p.TopK); err != nil {
		return p, fmt.Errorf("invalid format for parameter top_k: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "mode", q, &p.Mode); err != nil {
		return p, fmt.Errorf("invalid format for parameter mode: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "filter", q, &p.Filter); err != nil {
		return p, fmt.Errorf("invalid format for parameter filter: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "rerank", q, &p.Rerank); err != nil {
		return p, fmt.Errorf("invalid format for parameter rerank: %w", err)
	}
	return p, nil
}

// toDomain treats every filter=key=value pair as a must clause.
func (p retrieveParams) toDomain(lim topKLimits) (request.Request, error) {
	body := retrieveRequest{Query: p.Q, TopK: p.TopK, Mode: p.Mode, Rerank: p.Rerank}
	if len(p.Filter) > 0 {
		body.Filter = &filterExpression{Must: make([]filterCondition, 0, len(p.Filter))}
		for _, f := range p.Filter {
			c, err := filter.ParseMatch(f)
			if err != nil {
				return request.Request{}, fmt.Errorf("parse filters: %w", err)
			}
			match := c.Match()
			body.Filter.Must = append(body.Filter.Must, filterCondition{Key: c.Key(), Match: &match})
		}
	}
	return body.toDomain(lim)
}

func filtersFromDTO(f *filterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}
	must, err := conditionsFromDTO(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromDTO(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromDTO(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}
	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromDTO(cs []filterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromDTO(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromDTO(c filterCondition) (filter.Condition, error) {
	switch {
	case c.Match != nil && c.Range != nil:
		return filter.Condition{}, fmt.Errorf("filter %q: match and range are mutually exclusive", c.Key)
	case c.Match != nil:
		return filter.NewMatch(c.Key, *c.Match)
	case c.Range != nil:
		r, err := filter.NewRangeFilter(c.Range.GT, c.Range.GTE, c.Range.LT, c.Range.LTE)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("filter %q: %w", c.Key, err)
		}
		return filter.NewRange(c.Key, r)
	default:
		return filter.Condition{}, fmt.Errorf("filter %q: match or range is required", c.Key)
	}
}

type chunkBody struct {
	ChunkID          string          `json:"chunk_id"`
	Text             string          `json:"text"`
	SourceDocumentID string          `json:"source_document_id"`
	Heading          string          `json:"heading,omitempty"`
	Page             int             `json:"page,omitempty"`
	Citation         string          `json:"citation"`
	Metadata         *chunk.Metadata `json:"metadata,omitempty"`
}

func chunkBodyFrom(c *chunk.Chunk) chunkBody {
	return chunkBody{
		ChunkID:          c.ID().String(),
		Text:             c.Text(),
		SourceDocumentID: c.SourceDocumentID(),
		Heading:          c.Heading(),
		Page:             c.Page(),
		Citation:         c.Citation(),
		Metadata:         c.Metadata(),
	}
}

type hitResponse struct {
	chunkBody
	Score       float64  `json:"score"`
	FusedScore  float64  `json:"fused_score"`
	DenseScore  float64  `json:"dense_score"`
	SparseScore float64  `json:"sparse_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

type retrieveResponse struct {
	Hits            []hitResponse `json:"hits"`
	SnapshotVersion string        `json:"snapshot_version"`
	Collapsed       int           `json:"collapsed"`
	Reranked        bool          `json:"reranked"`
	FilterPlan      string        `json:"filter_plan"`
}

func retrieveResponseFrom(resp retrieval.Response) retrieveResponse {
	hits := make([]hitResponse, len(resp.Hits))
	for i := range resp.Hits {
		h := &resp.Hits[i]
		hits[i] = hitResponse{
			chunkBody:   chunkBodyFrom(&h.Chunk),
			Score:       h.Score(),
			FusedScore:  h.FusedScore,
			DenseScore:  h.DenseScore,
			SparseScore: h.SparseScore,
			RerankScore: h.RerankScore,
		}
	}
	return retrieveResponse{
		Hits:            hits,
		SnapshotVersion: resp.SnapshotVersion,
		Collapsed:       resp.Collapsed,
		Reranked:        resp.Reranked,
		FilterPlan:      resp.FilterPlan,
	}
}

type chunkResponse struct {
	SnapshotVersion string    `json:"snapshot_version"`
	Chunk           chunkBody `json:"chunk"`
}

type manifestResponse struct {
	Version        string    `json:"version"`
	Dimension      int       `json:"embedding_dimension"`
	Metric         string    `json:"metric"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	ChunkCount     int       `json:"chunk_count"`
	BuiltAt        time.Time `json:"built_at"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

func manifestResponseFrom(m snapshot.Manifest) manifestResponse {
	return manifestResponse{
		Version:        m.Version,
		Dimension:      m.Dimension,
		Metric:         string(m.Metric),
		EmbeddingModel: m.EmbeddingModel,
		ChunkCount:     m.ChunkCount,
		BuiltAt:        m.BuiltAt,
		ContentHash:    m.ContentHash,
	}
}

type exclusionResponse struct {
	Index   int    `json:"index"`
	ChunkID string `json:"chunk_id,omitempty"`
	Source  string `json:"source"`
	Stage   string `json:"stage"`
	Error   string `json:"error,omitempty"`
}

type buildStatusResponse struct {
	State           string              `json:"state"`
	Version         string              `json:"version,omitempty"`
	PreviousVersion string              `json:"previous_version,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	FinishedAt      *time.Time          `json:"finished_at,omitempty"`
	Records         int                 `json:"records"`
	Skipped         int                 `json:"skipped"`
	Excluded        int                 `json:"excluded"`
	Indexed         int                 `json:"indexed"`
	Enriched        int                 `json:"enriched"`
	EnrichFailed    int                 `json:"enrich_failed"`
	Error           string              `json:"error,omitempty"`
	Exclusions      []exclusionResponse `json:"exclusions,omitempty"`
}

func buildStatusFrom(s builduc.Status) buildStatusResponse {
	out := buildStatusResponse{
		State:           string(s.State),
		Version:         s.Version,
		PreviousVersion: s.PreviousVersion,
		StartedAt:       timePtr(s.StartedAt),
		FinishedAt:      timePtr(s.FinishedAt),
		Records:         s.Records,
		Skipped:         s.Skipped,
		Excluded:        s.Excluded,
		Indexed:         s.Indexed,
		Enriched:        s.Enriched,
		EnrichFailed:    s.EnrichFailed,
		Error:           s.Error,
	}
	for _, r := range s.Exclusions {
		e := exclusionResponse{Index: r.Index(), Source: r.Source(), Stage: string(r.Stage())}
		if r.Status() != batch.StatusSkipped {
			e.ChunkID = r.ID().String()
		}
		if err := r.Err(); err != nil {
			e.Error = err.Error()
		}
		out.Exclusions = append(out.Exclusions, e)
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type healthResponse struct {
	Status          string                          `json:"status"`
	SnapshotVersion string                          `json:"snapshot_version,omitempty"`
	Checks          map[string]healthuc.CheckResult `json:"checks"`
}
