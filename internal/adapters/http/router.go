package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/paper-qa/internal/adapters/http/openapi"
	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
	"github.com/kirillkom/paper-qa/internal/infrastructure/export"
	"github.com/kirillkom/paper-qa/internal/observability/metrics"
)

const (
	serviceName   = "api"
	maxUploadSize = 64 << 20
	maxJSONBody   = 1 << 20
)

// Deps are the inbound ports served over HTTP. Nil ports disable their
// routes with 503.
type Deps struct {
	Ingestor   ports.DocumentIngestor
	Documents  ports.DocumentReader
	Processor  ports.DocumentProcessor
	Summarizer ports.DocumentSummarizer
	Answerer   ports.QuestionAnswerer
	Cache      ports.PaperCacheAdmin
	Metrics    *metrics.HTTPServerMetrics
}

type Router struct {
	cfg  config.Config
	deps Deps
}

func NewRouter(cfg config.Config, deps Deps) *Router {
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}", rt.getDocumentByID)
	mux.HandleFunc("DELETE /v1/documents/{document_id}", rt.removeDocument)
	mux.HandleFunc("GET /v1/documents/{document_id}/summary", rt.summarizeDocument)
	mux.HandleFunc("POST /v1/answers", rt.answerQuestion)
	mux.HandleFunc("GET /v1/answers/stream", rt.answerQuestionStream)
	mux.HandleFunc("POST /v1/references", rt.exportReferences)
	mux.HandleFunc("GET /v1/cache/stats", rt.cacheStats)
	mux.HandleFunc("POST /v1/cache/purge", rt.purgeCache)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.APIOpenAPIValidation {
		doc, err := openapi.Load()
		if err != nil {
			slog.Error("openapi_validation_disabled", "error", err)
		} else if validated, err := openAPIValidationMiddleware(doc, mux); err != nil {
			slog.Error("openapi_validation_disabled", "error", err)
		} else {
			handler = validated
		}
	}
	handler = authMiddleware(handler, rt.cfg.APIKey)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.deps.Metrics != nil {
		handler = rt.deps.Metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "document upload is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.deps.Ingestor.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Documents == nil {
		writeError(w, http.StatusServiceUnavailable, "document store is not configured")
		return
	}
	doc, err := rt.deps.Documents.GetByID(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) removeDocument(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Processor == nil {
		writeError(w, http.StatusServiceUnavailable, "document index is not configured")
		return
	}
	if err := rt.deps.Processor.RemoveDocument(r.Context(), r.PathValue("document_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) summarizeDocument(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Summarizer == nil {
		writeError(w, http.StatusServiceUnavailable, "summaries are not configured")
		return
	}
	summary, err := rt.deps.Summarizer.SummarizeDocument(r.Context(), r.PathValue("document_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) answerQuestion(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Answerer == nil {
		writeError(w, http.StatusServiceUnavailable, "answering is not configured")
		return
	}
	var q domain.Question
	if err := decodeJSON(w, r, &q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(q.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := rt.answerContext(r.Context())
	defer cancel()
	started := time.Now()
	answer, err := rt.deps.Answerer.AnswerQuestion(ctx, q)
	if err != nil {
		rt.recordFailure("answer", err)
		writeDomainError(w, err)
		return
	}
	rt.recordAnswer("answer", answer, time.Since(started))
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) answerQuestionStream(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Answerer == nil {
		writeError(w, http.StatusServiceUnavailable, "answering is not configured")
		return
	}
	q, err := bindStreamQuestion(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported by response writer")
		return
	}

	ctx, cancel := rt.answerContext(r.Context())
	defer cancel()
	started := time.Now()
	answer, err := streamAnswer(ctx, rt.deps.Answerer, q, stream)
	if err != nil {
		rt.recordFailure("answer_stream", err)
		stream.sendError(err)
		return
	}
	rt.recordAnswer("answer_stream", answer, time.Since(started))
	stream.send("answer", answer)
}

func bindStreamQuestion(r *http.Request) (domain.Question, error) {
	var (
		q     domain.Question
		web   bool
		seeds []string
	)
	params := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "query", params, &q.Query); err != nil {
		return q, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "document_id", params, &q.DocumentID); err != nil {
		return q, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "web", params, &web); err != nil {
		return q, err
	}
	if err := runtime.BindQueryParameter("form", true, false, "seed", params, &seeds); err != nil {
		return q, err
	}
	q.UseWebResearch = web
	q.SeedPaperIDs = seeds
	return q, nil
}

func (rt *Router) exportReferences(w http.ResponseWriter, r *http.Request) {
	var rawFormat string
	if err := runtime.BindQueryParameter("form", true, false, "format", r.URL.Query(), &rawFormat); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Sources []domain.SearchSource `json:"sources"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	out, err := export.References(body.Sources, format)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatXLSX {
		w.Header().Set("Content-Disposition", `attachment; filename="references.xlsx"`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (rt *Router) cacheStats(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "paper cache is not configured")
		return
	}
	stats, err := rt.deps.Cache.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) purgeCache(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "paper cache is not configured")
		return
	}
	n, err := rt.deps.Cache.PurgeExpired(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (rt *Router) answerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rt.cfg.APIRequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, rt.cfg.APIRequestTimeout)
}

func (rt *Router) recordAnswer(endpoint string, answer *domain.Answer, duration time.Duration) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordAnswer(serviceName, endpoint, answer, duration)
	}
}

func (rt *Router) recordFailure(endpoint string, err error) {
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordAnswerFailure(serviceName, endpoint, errorOutcome(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, mapErrorToHTTPStatus(err), err.Error())
}
