package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	answersTotal       *prometheus.CounterVec
	answerSources      *prometheus.HistogramVec
	answerConfidence   *prometheus.HistogramVec
	answerDuration     *prometheus.HistogramVec
	answerDegradations *prometheus.CounterVec
	crawlPapersTotal   *prometheus.CounterVec
	webSourcesTotal    *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pqa",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pqa",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pqa",
			Subsystem: "answer",
			Name:      "requests_total",
			Help:      "Total answer requests by outcome.",
		},
		[]string{"service", "endpoint", "outcome"},
	)
	answerSources := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pqa",
			Subsystem: "answer",
			Name:      "sources",
			Help:      "Distribution of cited sources per answer by kind.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
		[]string{"service", "kind"},
	)
	answerConfidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pqa",
			Subsystem: "answer",
			Name:      "confidence",
			Help:      "Distribution of answer confidence.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service"},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pqa",
			Subsystem: "answer",
			Name:      "duration_seconds",
			Help:      "Answer pipeline duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"service", "endpoint"},
	)
	answerDegradations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pqa",
			Subsystem: "answer",
			Name:      "degradations_total",
			Help:      "Recovered pipeline degradations by stage.",
		},
		[]string{"service", "stage"},
	)
	crawlPapersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pqa",
			Subsystem: "crawl",
			Name:      "papers_total",
			Help:      "Citation-graph papers by origin (network, cache, skipped).",
		},
		[]string{"service", "origin"},
	)
	webSourcesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pqa",
			Subsystem: "web",
			Name:      "sources_total",
			Help:      "Accepted web sources and provider or fetch errors.",
		},
		[]string{"service", "result"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		answersTotal,
		answerSources,
		answerConfidence,
		answerDuration,
		answerDegradations,
		crawlPapersTotal,
		webSourcesTotal,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		answersTotal:       answersTotal,
		answerSources:      answerSources,
		answerConfidence:   answerConfidence,
		answerDuration:     answerDuration,
		answerDegradations: answerDegradations,
		crawlPapersTotal:   crawlPapersTotal,
		webSourcesTotal:    webSourcesTotal,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/documents/") && strings.HasSuffix(path, "/summary"):
		return "/v1/documents/{document_id}/summary"
	case strings.HasPrefix(path, "/v1/documents/"):
		return "/v1/documents/{document_id}"
	default:
		return path
	}
}

// RecordAnswer observes one successful answer.
func (m *HTTPServerMetrics) RecordAnswer(service, endpoint string, answer *domain.Answer, duration time.Duration) {
	if answer == nil {
		return
	}
	m.answersTotal.WithLabelValues(service, endpoint, outcomeOf(answer)).Inc()
	m.answerConfidence.WithLabelValues(service).Observe(answer.Confidence)
	m.answerDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())

	counts := map[domain.SourceKind]int{domain.SourcePDF: 0, domain.SourceWeb: 0, domain.SourceAcademic: 0}
	for _, s := range answer.Sources {
		counts[s.Kind]++
	}
	for kind, n := range counts {
		m.answerSources.WithLabelValues(service, string(kind)).Observe(float64(n))
	}

	d := answer.Diagnostics
	if d.RetrievalDegraded {
		m.answerDegradations.WithLabelValues(service, "retrieval").Inc()
	}
	if d.ExpansionSkipped {
		m.answerDegradations.WithLabelValues(service, "expansion").Inc()
	}
	if !answer.Generated {
		m.answerDegradations.WithLabelValues(service, "generation").Inc()
	}
	m.crawlPapersTotal.WithLabelValues(service, "network").Add(float64(d.Crawl.NetworkFetches))
	m.crawlPapersTotal.WithLabelValues(service, "cache").Add(float64(d.Crawl.CacheHits))
	m.crawlPapersTotal.WithLabelValues(service, "skipped").Add(float64(d.Crawl.SkippedNodes))
	m.webSourcesTotal.WithLabelValues(service, "accepted").Add(float64(d.WebSources))
	m.webSourcesTotal.WithLabelValues(service, "error").Add(float64(d.WebErrors))
}

// RecordAnswerFailure counts a failed answer request by error class.
func (m *HTTPServerMetrics) RecordAnswerFailure(service, endpoint, outcome string) {
	if outcome == "" {
		outcome = "error"
	}
	m.answersTotal.WithLabelValues(service, endpoint, outcome).Inc()
}

func outcomeOf(answer *domain.Answer) string {
	if answer.Generated {
		return "generated"
	}
	return "extractive"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
