package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

const (
	summaryInputLimit    = 4000
	summaryFallbackLimit = 600
)

type SummaryUseCase struct {
	index     ports.ChunkIndex
	generator ports.TextGenerator
	timeout   time.Duration
}

func NewSummaryUseCase(index ports.ChunkIndex, generator ports.TextGenerator, timeout time.Duration) *SummaryUseCase {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SummaryUseCase{index: index, generator: generator, timeout: timeout}
}

func (uc *SummaryUseCase) SummarizeDocument(ctx context.Context, documentID string) (*domain.DocumentSummary, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "summarize document", errors.New("document id is required"))
	}
	chunks, err := uc.index.DocumentChunks(ctx, documentID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "summarize document", err)
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "summarize document", errors.New("no indexed chunks"))
	}

	summary := &domain.DocumentSummary{
		DocumentID:  documentID,
		TotalPages:  countPages(chunks),
		TotalChunks: len(chunks),
	}
	for _, c := range chunks {
		switch c.Section {
		case domain.SectionTable:
			summary.HasTables = true
		case domain.SectionEquation:
			summary.HasEquations = true
		case domain.SectionFigure:
			summary.HasFigures = true
		}
	}

	excerpt := leadingText(chunks, summaryInputLimit)
	if uc.generator != nil {
		gctx, cancel := context.WithTimeout(ctx, uc.timeout)
		text, err := uc.generator.GenerateFromPrompt(gctx, buildSummaryPrompt(excerpt))
		cancel()
		if err == nil && strings.TrimSpace(text) != "" {
			summary.Summary = strings.TrimSpace(text)
			summary.Generated = true
			return summary, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("summary_generation_failed", "document_id", documentID, "error", err)
	}
	summary.Summary = truncateRunes(excerpt, summaryFallbackLimit)
	return summary, nil
}

// leadingText joins body and heading chunks from the start of the document.
func leadingText(chunks []domain.Chunk, limit int) string {
	var b strings.Builder
	for _, c := range chunks {
		if c.Section != domain.SectionBody && c.Section != domain.SectionHeading {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(c.Text))
		if b.Len() >= limit {
			break
		}
	}
	return truncateRunes(b.String(), limit)
}
