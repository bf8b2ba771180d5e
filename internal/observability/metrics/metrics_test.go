package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(res.Body)
	return string(body)
}

func TestRecordAnswerExportsSourcesAndCrawlCounters(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.RecordAnswer("api", "ask", &domain.Answer{
		Generated:  true,
		Confidence: 0.7,
		Sources:    []domain.SearchSource{{Kind: domain.SourcePDF}, {Kind: domain.SourceAcademic}},
		Diagnostics: domain.Diagnostics{
			RetrievalDegraded: true,
			Crawl:             domain.CrawlStats{NetworkFetches: 3, CacheHits: 2},
		},
	}, 2*time.Second)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pqa_answer_requests_total{endpoint="ask",outcome="generated",service="api"} 1`,
		`pqa_crawl_papers_total{origin="cache",service="api"} 2`,
		`pqa_crawl_papers_total{origin="network",service="api"} 3`,
		`pqa_answer_degradations_total{service="api",stage="retrieval"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metric %q in output:\n%s", want, body)
		}
	}
}

func TestMiddlewareNormalizesDocumentPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/abc/summary", nil))

	body := scrape(t, m.Handler())
	want := `pqa_http_requests_total{method="GET",path="/v1/documents/{document_id}/summary",service="api",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in output:\n%s", want, body)
	}
}

func TestWorkerMetricsSeparatesRejectedUploads(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartDocument()
	m.FinishDocument("worker", time.Second, nil)
	m.StartDocument()
	m.FinishDocument("worker", time.Second, domain.WrapError(domain.ErrInvalidInput, "extract", io.EOF))
	m.StartDocument()
	m.FinishDocument("worker", time.Second, io.ErrUnexpectedEOF)
	m.ObserveIndexed("worker", &domain.Document{Pages: 3, ChunkCount: 12})
	m.ObserveIndexed("worker", &domain.Document{})

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pqa_worker_documents_total{service="worker",status="ready"} 1`,
		`pqa_worker_documents_total{service="worker",status="rejected"} 1`,
		`pqa_worker_documents_total{service="worker",status="failed"} 1`,
		`pqa_worker_documents_in_flight{service="worker"} 0`,
		`pqa_index_document_chunks_count{service="worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output", want)
		}
	}
}
