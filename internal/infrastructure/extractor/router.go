package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

// Router picks the PDF extractor for PDF uploads and the text extractor
// for everything else.
type Router struct {
	pdf  ports.TextExtractor
	text ports.TextExtractor
}

func NewRouter(pdf, text ports.TextExtractor) *Router {
	return &Router{pdf: pdf, text: text}
}

func (r *Router) Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error) {
	if IsPDF(doc) {
		return r.pdf.Extract(ctx, doc)
	}
	return r.text.Extract(ctx, doc)
}

func IsPDF(doc *domain.Document) bool {
	if strings.EqualFold(doc.MimeType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(doc.Filename), ".pdf")
}
