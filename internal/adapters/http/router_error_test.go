package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type ingestErrFake struct {
	err error
}

func (f ingestErrFake) Upload(context.Context, string, string, io.Reader) (*domain.Document, error) {
	return nil, f.err
}

type answererFake struct {
	err    error
	events []domain.ProgressEvent
	got    domain.Question
}

func (f *answererFake) AnswerQuestion(ctx context.Context, q domain.Question) (*domain.Answer, error) {
	return f.AnswerQuestionStream(ctx, q, nil)
}

func (f *answererFake) AnswerQuestionStream(ctx context.Context, q domain.Question, events domain.ProgressSink) (*domain.Answer, error) {
	f.got = q
	for _, ev := range f.events {
		events.Emit(ctx, ev)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{
		Text:       "ok",
		Generated:  true,
		Confidence: 0.8,
		Sources:    []domain.SearchSource{{Kind: domain.SourcePDF, Locator: "3", Page: 3, Snippet: "chunk"}},
	}, nil
}

type docsErrFake struct {
	err error
}

func (f docsErrFake) GetByID(context.Context, string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: "doc-1", Filename: "a.pdf", MimeType: "application/pdf", StoragePath: "a", Status: domain.StatusReady}, nil
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("bad query")), http.StatusBadRequest},
		{domain.WrapError(domain.ErrNoEvidence, "answer", errors.New("nothing")), http.StatusUnprocessableEntity},
		{domain.WrapError(domain.ErrCancelled, "answer", context.Canceled), statusClientClosedRequest},
		{domain.WrapError(domain.ErrProviderRateLimited, "answer", errors.New("429")), http.StatusTooManyRequests},
		{domain.WrapError(domain.ErrRetrievalUnavailable, "answer", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := NewRouter(config.Config{}, Deps{Answerer: &answererFake{err: tc.err}}).Handler()
		res := postJSON(t, handler, "/v1/answers", map[string]any{"query": "test"})
		if res.Code != tc.want {
			t.Fatalf("error %v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
	}
}

func TestGetDocumentByIDReturns404ForNotFound(t *testing.T) {
	handler := NewRouter(config.Config{}, Deps{
		Documents: docsErrFake{err: domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("id=missing"))},
	}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestUploadMapsInvalidInputTo400(t *testing.T) {
	handler := NewRouter(config.Config{}, Deps{
		Ingestor: ingestErrFake{err: domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("unsupported type"))},
	}).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, multipartUpload(t, "notes.exe", []byte("MZ")))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUnconfiguredRoutesReturn503(t *testing.T) {
	handler := NewRouter(config.Config{}, Deps{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}
