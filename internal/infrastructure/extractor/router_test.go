package extractor

import (
	"context"
	"testing"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type extractorFake struct {
	name  string
	calls int
}

func (e *extractorFake) Extract(context.Context, *domain.Document) ([]domain.PageText, error) {
	e.calls++
	return []domain.PageText{{Number: 1, Text: e.name}}, nil
}

func TestRouterDispatchesByType(t *testing.T) {
	pdf := &extractorFake{name: "pdf"}
	text := &extractorFake{name: "text"}
	r := NewRouter(pdf, text)

	_, _ = r.Extract(context.Background(), &domain.Document{Filename: "paper.PDF"})
	_, _ = r.Extract(context.Background(), &domain.Document{Filename: "blob", MimeType: "application/pdf"})
	_, _ = r.Extract(context.Background(), &domain.Document{Filename: "notes.txt", MimeType: "text/plain"})

	if pdf.calls != 2 || text.calls != 1 {
		t.Fatalf("expected 2 pdf and 1 text calls, got %d and %d", pdf.calls, text.calls)
	}
}
