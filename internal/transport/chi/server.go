package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/flowbot/internal/domain"
	"github.com/kailas-cloud/flowbot/internal/domain/answer"
	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	domdoc "github.com/kailas-cloud/flowbot/internal/domain/document"
	"github.com/kailas-cloud/flowbot/internal/domain/query"
	"github.com/kailas-cloud/flowbot/internal/metrics"
	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
	healthuc "github.com/kailas-cloud/flowbot/internal/usecase/health"
)

const (
	maxBatchSize    = 100
	maxRequestBytes = 8 << 20
)

// Asker answers analyst questions.
type Asker interface {
	Ask(ctx context.Context, q query.Query) (answer.Answer, error)
}

// ModelRegistry manages calibration versions.
type ModelRegistry interface {
	Register(ctx context.Context, params domcal.Params) (domcal.Params, error)
	Current(modelID string) (domcal.Params, error)
	Versions(ctx context.Context, modelID string) ([]domcal.Params, error)
	Fit(ctx context.Context, modelID string, samples []calibrationuc.Sample, method domcal.Method) (domcal.Params, error)
	SetCentroids(ctx context.Context, modelID string, centroids [][]float32, threshold float64) (domcal.Params, error)
}

// Corpus manages the indexed document set.
type Corpus interface {
	IngestDocuments(ctx context.Context, docs []domdoc.Document) (int, error)
	RemoveDocument(ctx context.Context, id string) error
	Reindex(ctx context.Context, version string) (int, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Server serves the flowbot HTTP API.
type Server struct {
	asker   Asker
	models  ModelRegistry
	corpus  Corpus
	health  HealthChecker
	apiKeys []string
	logger  *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	asker Asker,
	models ModelRegistry,
	corpus Corpus,
	health HealthChecker,
	apiKeys []string,
	logger *zap.Logger,
) *Server {
	return &Server{
		asker:   asker,
		models:  models,
		corpus:  corpus,
		health:  health,
		apiKeys: apiKeys,
		logger:  logger,
	}
}

// Handler builds the router with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := gochi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Post("/ask", s.Ask)

	r.Route("/models/{model}", func(r gochi.Router) {
		r.Get("/", s.GetModel)
		r.Put("/", s.PutModel)
		r.Get("/versions", s.ListModelVersions)
		r.Post("/fit", s.FitModel)
		r.Put("/centroids", s.PutCentroids)
	})

	r.Post("/documents", s.IngestDocuments)
	r.Delete("/documents/{id}", s.DeleteDocument)
	r.Post("/reindex", s.Reindex)

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	return r
}

// Ask handles POST /ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !s.decode(w, r, &req) {
		return
	}

	q, err := queryFromRequest(req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	a, err := s.asker.Ask(ctx, q)
	setUsageHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, answerToResponse(a))
}

// GetModel handles GET /models/{model}.
func (s *Server) GetModel(w http.ResponseWriter, r *http.Request) {
	p, err := s.models.Current(gochi.URLParam(r, "model"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsToResponse(p))
}

// ListModelVersions handles GET /models/{model}/versions.
func (s *Server) ListModelVersions(w http.ResponseWriter, r *http.Request) {
	history, err := s.models.Versions(r.Context(), gochi.URLParam(r, "model"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	resp := ModelVersionsResponse{Versions: make([]ModelResponse, len(history))}
	for i, p := range history {
		resp.Versions[i] = paramsToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PutModel handles PUT /models/{model}. Every call publishes a new version.
func (s *Server) PutModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.models.Register(r.Context(), paramsFromRequest(gochi.URLParam(r, "model"), req))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsToResponse(p))
}

// FitModel handles POST /models/{model}/fit.
func (s *Server) FitModel(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.models.Fit(r.Context(), gochi.URLParam(r, "model"), req.Samples, domcal.Method(req.Method))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsToResponse(p))
}

// PutCentroids handles PUT /models/{model}/centroids.
func (s *Server) PutCentroids(w http.ResponseWriter, r *http.Request) {
	var req CentroidsRequest
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.models.SetCentroids(r.Context(), gochi.URLParam(r, "model"), req.Centroids, req.Threshold)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsToResponse(p))
}

// IngestDocuments handles POST /documents.
func (s *Server) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}

	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "documents must not be empty")
		return
	}
	if len(req.Documents) > maxBatchSize {
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			"batch too large (max "+strconv.Itoa(maxBatchSize)+" documents)")
		return
	}

	docs, err := documentsFromRequest(req.Documents)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	n, err := s.corpus.IngestDocuments(ctx, docs)
	setUsageHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Indexed: n})
}

// DeleteDocument handles DELETE /documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.corpus.RemoveDocument(r.Context(), gochi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reindex handles POST /reindex.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.EmbeddingVersion == "" {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "embedding_version is required")
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	n, err := s.corpus.Reindex(ctx, req.EmbeddingVersion)
	setUsageHeaders(w, usage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReindexResponse{Indexed: n, EmbeddingVersion: req.EmbeddingVersion})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:           string(report.Status),
		Checks:           checks,
		IndexDocuments:   report.IndexDocuments,
		EmbeddingVersion: report.EmbeddingVersion,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.BackendUsage) {
	if usage == nil {
		return
	}
	if n, ok := usage.EmbeddingTokens(); ok {
		w.Header().Set("X-Embedding-Tokens", strconv.FormatInt(n, 10))
	}
	if n, ok := usage.GenerationTokens(); ok {
		w.Header().Set("X-Generation-Tokens", strconv.FormatInt(n, 10))
	}
}
