package ports

import (
	"context"
	"io"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// DocumentRepository persists and reads uploaded document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveIndexStats(ctx context.Context, id string, pages, chunks int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes ingestion events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts per-page text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) ([]domain.PageText, error)
}

// Chunker splits page text into ordered chunks carrying page and section kind.
type Chunker interface {
	Split(pages []domain.PageText) []domain.Chunk
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TextGenerator turns a prompt into text.
type TextGenerator interface {
	GenerateFromPrompt(ctx context.Context, prompt string) (string, error)
}

// ChunkIndex holds embedded chunks. ReplaceDocument swaps a document's whole
// chunk set; readers never observe a partially replaced document.
type ChunkIndex interface {
	ReplaceDocument(ctx context.Context, documentID string, chunks []domain.Chunk) error
	DeleteDocument(ctx context.Context, documentID string) error
	DocumentChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)
	SearchSemantic(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error)
	SearchLexical(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
}

// PaperCache is the durable citation-graph record store keyed by (provider, paper id).
// Get returns domain.ErrPaperNotFound for missing or stale records and wraps
// domain.ErrCacheUnreadable on storage or decoding failures. Put is an upsert.
type PaperCache interface {
	Get(ctx context.Context, key domain.PaperKey) (*domain.Paper, error)
	Put(ctx context.Context, paper domain.Paper) error
	Stats(ctx context.Context) (domain.CacheStats, error)
	PurgeExpired(ctx context.Context) (int, error)
}

// PaperProvider is one external citation-graph source. Supports reports
// whether the canonical id namespace can be resolved by this provider.
type PaperProvider interface {
	Name() string
	Supports(paperID string) bool
	FetchPaper(ctx context.Context, paperID string) (*domain.Paper, error)
	SearchPapers(ctx context.Context, query string, limit int) ([]domain.Paper, error)
}

// WebSearchProvider is one external search engine.
type WebSearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]domain.WebHit, error)
}

// PageFetcher downloads a page and extracts its main text.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*domain.WebPage, error)
}

// GraphSink receives explored citation subgraphs.
type GraphSink interface {
	ExportSubgraph(ctx context.Context, graph domain.CitationSubgraph) error
}
