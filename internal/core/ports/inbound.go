package ports

import (
	"context"
	"io"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentPipeline is the inbound contract for asynchronous processing of uploaded files.
type DocumentPipeline interface {
	ProcessByID(ctx context.Context, documentID string) error
}

// DocumentProcessor ingests pre-chunked content into the index. ProcessDocument
// is idempotent per document id: re-ingestion replaces prior chunks.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID string, chunks []domain.Chunk) (*domain.IndexedDocument, error)
	RemoveDocument(ctx context.Context, documentID string) error
}

type DocumentSummarizer interface {
	SummarizeDocument(ctx context.Context, documentID string) (*domain.DocumentSummary, error)
}

// QuestionAnswerer synthesizes answers from document, web and citation-graph evidence.
type QuestionAnswerer interface {
	AnswerQuestion(ctx context.Context, question domain.Question) (*domain.Answer, error)
	AnswerQuestionStream(ctx context.Context, question domain.Question, events domain.ProgressSink) (*domain.Answer, error)
}

// PaperCacheAdmin exposes maintenance of the persistent citation-graph cache.
type PaperCacheAdmin interface {
	Stats(ctx context.Context) (domain.CacheStats, error)
	PurgeExpired(ctx context.Context) (int, error)
}
