package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	gochi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/chunk"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/domain/search/request"
	logpkg "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/logger"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/snapshot"
	builduc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/build"
	healthuc "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/health"
	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/usecase/retrieval"
)

// Retriever is the read path the API exposes.
type Retriever interface {
	Retrieve(ctx context.Context, req request.Request) (retrieval.Response, error)
	Chunk(ctx context.Context, id chunk.ID) (chunk.Chunk, string, error)
	Manifest() (snapshot.Manifest, error)
}

// IndexBuilder runs and reports snapshot builds.
type IndexBuilder interface {
	Run(ctx context.Context, records []builduc.Record) (snapshot.Manifest, error)
	Status() builduc.Status
	Running() bool
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// RecordSource produces the build input for a rebuild, typically by reading the corpus.
type RecordSource func(ctx context.Context) ([]builduc.Record, error)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the retrieval and index management API.
type Server struct {
	retrieval     Retriever
	builder       IndexBuilder
	health        HealthChecker
	records       RecordSource
	logger        *zap.Logger
	topK          topKLimits
	errorHandlers []errorHandler

	// background rebuilds; cancelled and drained by Shutdown
	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTopKLimits sets the top_k used when a request omits it and the largest accepted.
// Values outside 1..request.MaxTopK are ignored.
func WithTopKLimits(def, maxTopK int) ServerOption {
	return func(s *Server) {
		if maxTopK > 0 && maxTopK <= request.MaxTopK {
			s.topK.max = maxTopK
		}
		if def > 0 && def <= s.topK.max {
			s.topK.def = def
		}
	}
}

// NewServer creates an HTTP API server. builder and records may be nil, in which case
// the rebuild endpoint answers 501.
func NewServer(
	retriever Retriever,
	builder IndexBuilder,
	records RecordSource,
	health HealthChecker,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retrieval: retriever,
		builder:   builder,
		health:    health,
		records:   records,
		logger:    logger,
		topK:      defaultTopKLimits(),
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	// Order matters: a rate limit is also a dependency failure.
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusConflict, codeDimensionMismatch),
		sentinelHandler(builduc.ErrBuildInProgress, http.StatusConflict, codeBuildInProgress),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrDependencyUnavailable, http.StatusServiceUnavailable, codeDependencyUnavailable),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusServiceUnavailable, codeDependencyUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusServiceUnavailable, codeDependencyUnavailable),
		sentinelHandler(context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout),
	}
	return s
}

// Mount registers the API routes on r.
func (s *Server) Mount(r gochi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r gochi.Router) {
		r.Post("/retrieve", s.Retrieve)
		r.Get("/retrieve", s.RetrieveQuery)
		r.Get("/chunks/{id}", s.GetChunk)
		r.Get("/snapshot", s.GetSnapshot)
		r.Post("/index/rebuild", s.Rebuild)
		r.Get("/index/status", s.IndexStatus)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var body retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req, err := body.toDomain(s.topK)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	s.retrieve(w, r, req)
}

// RetrieveQuery handles GET /v1/retrieve?q=&top_k=&mode=&filter=key=value&rerank=.
func (s *Server) RetrieveQuery(w http.ResponseWriter, r *http.Request) {
	params, err := bindRetrieveParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	req, err := params.toDomain(s.topK)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	s.retrieve(w, r, req)
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, req request.Request) {
	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.retrieval.Retrieve(ctx, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, retrieveResponseFrom(resp))
}

// GetChunk handles GET /v1/chunks/{id}.
func (s *Server) GetChunk(w http.ResponseWriter, r *http.Request) {
	id, err := chunk.ParseID(gochi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}
	c, version, err := s.retrieval.Chunk(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunkResponse{
		SnapshotVersion: version,
		Chunk:           chunkBodyFrom(&c),
	})
}

// GetSnapshot handles GET /v1/snapshot.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	m, err := s.retrieval.Manifest()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponseFrom(m))
}

// Rebuild handles POST /v1/index/rebuild. The build runs in the background; progress is
// visible through GET /v1/index/status.
func (s *Server) Rebuild(w http.ResponseWriter, r *http.Request) {
	if s.builder == nil || s.records == nil {
		writeError(w, http.StatusNotImplemented, codeNotImplemented, "index rebuild is not enabled")
		return
	}
	if s.builder.Running() {
		s.handleDomainError(w, r, builduc.ErrBuildInProgress)
		return
	}

	// The build outlives the request but not the server.
	log := s.logger.With(zap.String("trigger", "http"))
	started := s.goBackground(func(ctx context.Context) {
		start := time.Now()
		records, err := s.records(ctx)
		if err != nil {
			log.Error("rebuild: read corpus failed", zap.Error(err))
			return
		}
		m, err := s.builder.Run(ctx, records)
		if err != nil {
			log.Error("rebuild failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		log.Info("rebuild finished",
			zap.String("version", m.Version),
			zap.Int("chunks", m.ChunkCount),
			zap.Duration("duration", time.Since(start)),
		)
	})
	if !started {
		writeError(w, http.StatusServiceUnavailable, codeShuttingDown, "server is shutting down")
		return
	}

	writeJSON(w, http.StatusAccepted, buildStatusFrom(s.builder.Status()))
}

// goBackground runs fn on the server's background context. It reports false once
// Shutdown has started.
func (s *Server) goBackground(fn func(ctx context.Context)) bool {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	if s.bgCtx.Err() != nil {
		return false
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn(s.bgCtx)
	}()
	return true
}

// Shutdown cancels background rebuilds and waits for them to return or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bgMu.Lock()
	s.bgCancel()
	s.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background rebuild: %w", ctx.Err())
	}
}

// IndexStatus handles GET /v1/index/status.
func (s *Server) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	if s.builder == nil {
		writeError(w, http.StatusNotImplemented, codeNotImplemented, "index rebuild is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, buildStatusFrom(s.builder.Status()))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{
		Status:          string(report.Status),
		SnapshotVersion: report.SnapshotVersion,
		Checks:          report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrDimensionMismatch,
		builduc.ErrBuildInProgress,
		domain.ErrRateLimited,
		domain.ErrDependencyUnavailable,
		domain.ErrEmbeddingQuotaExceeded,
		domain.ErrEmbeddingProviderError,
		context.DeadlineExceeded,
	}
	// Dimension details and validation messages are safe to show.
	var dim *domain.DimensionMismatchError
	if errors.As(err, &dim) {
		return dim.Error()
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return err.Error()
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
