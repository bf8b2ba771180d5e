package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
	"github.com/kirillkom/paper-qa/internal/core/usecase"
	badgercache "github.com/kirillkom/paper-qa/internal/infrastructure/cache/badger"
	sqlitecache "github.com/kirillkom/paper-qa/internal/infrastructure/cache/sqlite"
	"github.com/kirillkom/paper-qa/internal/infrastructure/academic"
	"github.com/kirillkom/paper-qa/internal/infrastructure/chunking"
	"github.com/kirillkom/paper-qa/internal/infrastructure/extractor"
	"github.com/kirillkom/paper-qa/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/paper-qa/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/paper-qa/internal/infrastructure/graphsink/neo4j"
	"github.com/kirillkom/paper-qa/internal/infrastructure/index/memory"
	"github.com/kirillkom/paper-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/paper-qa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/paper-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/paper-qa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/paper-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/paper-qa/internal/infrastructure/webfetch"
	"github.com/kirillkom/paper-qa/internal/infrastructure/websearch"
)

// Engine is the question answering stack: chunk index, language model,
// outbound research providers and the paper cache. It needs neither
// Postgres nor NATS, so the CLI and the MCP server run it standalone.
type Engine struct {
	Config config.Config

	Storage    ports.ObjectStorage
	Index      ports.ChunkIndex
	Extractor  ports.TextExtractor
	Chunker    ports.Chunker
	Indexer    *usecase.IndexDocumentUseCase
	Answerer   *usecase.AnswerQuestionUseCase
	Summarizer *usecase.SummaryUseCase
	// Cache is nil when CACHE_BACKEND=none.
	Cache ports.PaperCache

	closers []func()
}

// NewEngine builds the stack. db is only used by the postgres cache backend
// and may be nil otherwise.
func NewEngine(ctx context.Context, cfg config.Config, db *sql.DB) (*Engine, error) {
	e := &Engine{Config: cfg}
	if err := e.build(ctx, db); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, db *sql.DB) error {
	cfg := e.Config

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	e.Storage = storage

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	throttle := resilience.NewThrottle(cfg.ProviderRates())

	embedder, generator, err := newLanguageModel(cfg, executor)
	if err != nil {
		return err
	}

	switch strings.ToLower(cfg.IndexBackend) {
	case "qdrant":
		e.Index = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	case "", "memory":
		e.Index = memory.New()
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", cfg.IndexBackend)
	}

	cache, err := e.openCache(ctx, db)
	if err != nil {
		return err
	}
	e.Cache = cache

	e.Extractor = extractor.NewRouter(pdf.NewExtractor(storage), plaintext.NewExtractor(storage))
	e.Chunker = chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	indexer, err := usecase.NewIndexDocumentUseCase(e.Index, embedder, usecase.IndexDocumentOptions{
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedParallel:  cfg.EmbedParallel,
	})
	if err != nil {
		return fmt.Errorf("init indexer: %w", err)
	}
	e.Indexer = indexer
	e.closers = append(e.closers, indexer.Close)

	deps := usecase.AnswerDeps{
		Index: e.Index,
		Retriever: usecase.NewHybridRetriever(e.Index, embedder, usecase.RetrieverOptions{
			SemanticCandidates: cfg.RAGSemanticCandidates,
			LexicalCandidates:  cfg.RAGLexicalCandidates,
			SemanticWeight:     cfg.RAGSemanticWeight,
		}),
		Assembler: usecase.NewContextAssembler(e.Index, cfg.ContextWindowNeighbors, cfg.ContextBudgetChars),
		Reranker: usecase.NewReranker(usecase.RerankWeights{
			Semantic: cfg.RerankWeightSemantic,
			Lexical:  cfg.RerankWeightLexical,
			Locality: cfg.RerankWeightLocality,
			Section:  cfg.RerankWeightSection,
		}),
		Web: usecase.NewWebResearchEngine(webProviders(cfg, executor, throttle),
			webfetch.New(&http.Client{Timeout: cfg.WebFetchTimeout}),
			generator,
			usecase.WebResearchOptions{
				MaxFetch:             cfg.WebMaxFetch,
				MaxSources:           cfg.WebMaxSources,
				ReliabilityThreshold: cfg.WebReliabilityThreshold,
				FetchTimeout:         cfg.WebFetchTimeout,
				Parallel:             cfg.OutboundMaxParallel,
				TranslateQuery:       cfg.WebTranslateQuery,
			}),
		Synthesizer: usecase.NewAnswerSynthesizer(generator, usecase.SynthesizerOptions{
			BudgetChars:       cfg.EvidenceBudgetChars,
			GenerationTimeout: cfg.GenerationTimeout,
		}),
	}
	if cfg.HyDEEnabled {
		deps.Expander = usecase.NewQueryExpander(generator, embedder, cfg.HyDETimeout)
	}
	if cfg.CrawlEnabled {
		deps.Crawler = usecase.NewCitationGraphCrawler(paperProviders(cfg, executor, throttle), cache, e.graphSink(ctx), usecase.CrawlOptions{
			MaxDepth:       cfg.CrawlMaxDepth,
			MaxPapers:      cfg.CrawlMaxPapers,
			Parallel:       cfg.CrawlParallel,
			SeedCount:      cfg.CrawlSeedCount,
			IncludeCitedBy: cfg.CrawlIncludeCitedBy,
			MaxEvidence:    cfg.CrawlMaxEvidence,
		})
	}

	e.Answerer = usecase.NewAnswerQuestionUseCase(deps, usecase.AnswerOptions{
		TopK:        cfg.RAGTopK,
		HyDEEnabled: cfg.HyDEEnabled,
	})
	e.Summarizer = usecase.NewSummaryUseCase(e.Index, generator, cfg.GenerationTimeout)
	return nil
}

func newLanguageModel(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.TextGenerator, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "ollama":
		client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
			Timeout:            cfg.GenerationTimeout,
			ResilienceExecutor: executor,
		})
		return ollama.NewEmbedder(client), ollama.NewGenerator(client), nil
	case "openai":
		oc := openai.Config{
			BaseURL:    cfg.OpenAIBaseURL,
			APIKey:     cfg.OpenAIAPIKey,
			GenModel:   cfg.OpenAIGenModel,
			EmbedModel: cfg.OpenAIEmbedModel,
		}
		embedder, err := openai.NewEmbedder(oc, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai embedder: %w", err)
		}
		generator, err := openai.NewGenerator(oc, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init openai generator: %w", err)
		}
		return embedder, generator, nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

// openPostgres is swapped in tests.
var openPostgres = postgres.OpenDB

func (e *Engine) openCache(ctx context.Context, db *sql.DB) (ports.PaperCache, error) {
	cfg := e.Config
	switch strings.ToLower(cfg.CacheBackend) {
	case "none":
		return nil, nil
	case "", "sqlite":
		c, err := sqlitecache.Open(filepath.Join(cfg.CachePath, "papers.db"), cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite paper cache: %w", err)
		}
		e.closers = append(e.closers, func() { _ = c.Close() })
		return c, nil
	case "badger":
		c, err := badgercache.Open(cfg.CachePath, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("open badger paper cache: %w", err)
		}
		e.closers = append(e.closers, func() { _ = c.Close() })
		return c, nil
	case "postgres":
		if db == nil {
			opened, err := openPostgres(cfg.PostgresDSN)
			if err != nil {
				return nil, fmt.Errorf("open postgres: %w", err)
			}
			e.closers = append(e.closers, func() { _ = opened.Close() })
			// App callers already ran the schema; standalone engines own it.
			if err := postgres.EnsureSchema(ctx, opened); err != nil {
				return nil, fmt.Errorf("ensure paper cache schema: %w", err)
			}
			db = opened
		}
		return postgres.NewPaperCacheRepository(db, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

// graphSink connects to Neo4j when configured. Export is optional, so a
// failed connection only disables it.
func (e *Engine) graphSink(ctx context.Context) ports.GraphSink {
	if strings.TrimSpace(e.Config.Neo4jURI) == "" {
		return nil
	}
	sink, err := neo4j.New(ctx, e.Config.Neo4jURI, e.Config.Neo4jUser, e.Config.Neo4jPassword)
	if err != nil {
		slog.Warn("graph_export_disabled", "error", err)
		return nil
	}
	e.closers = append(e.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sink.Close(closeCtx)
	})
	return sink
}

// paperProviders are ordered by preference: the crawler asks the first one
// that supports an identifier.
func paperProviders(cfg config.Config, executor *resilience.Executor, throttle *resilience.Throttle) []ports.PaperProvider {
	opts := academic.Options{
		Timeout:  cfg.ProviderTimeout,
		Executor: executor,
		Throttle: throttle,
	}
	s2 := opts
	s2.APIKey = cfg.SemanticScholarAPIKey
	oa := opts
	oa.Email = cfg.OpenAlexEmail
	pm := opts
	pm.APIKey = cfg.PubMedAPIKey

	providers := []ports.PaperProvider{
		academic.NewSemanticScholar(s2),
		academic.NewOpenAlex(oa),
		academic.NewPubMed(pm),
	}
	if cfg.COREAPIKey != "" {
		core := opts
		core.APIKey = cfg.COREAPIKey
		providers = append(providers, academic.NewCORE(core))
	}
	return providers
}

func webProviders(cfg config.Config, executor *resilience.Executor, throttle *resilience.Throttle) []ports.WebSearchProvider {
	opts := websearch.Options{
		Timeout:  cfg.ProviderTimeout,
		Executor: executor,
		Throttle: throttle,
		Email:    cfg.OpenAlexEmail,
	}
	return []ports.WebSearchProvider{
		websearch.NewDuckDuckGo(opts),
		websearch.NewWikipedia(opts),
		websearch.NewScholarly(opts),
	}
}

// IndexFile extracts, chunks and indexes a local file without the upload
// queue. The document id is derived from the absolute path, so indexing
// the same file again replaces its chunks.
func (e *Engine) IndexFile(ctx context.Context, path string) (*domain.IndexedDocument, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index file", err)
	}
	defer f.Close()

	filename := filepath.Base(abs)
	doc := &domain.Document{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(),
		Filename: filename,
		MimeType: mime.TypeByExtension(filepath.Ext(filename)),
	}
	doc.StoragePath = doc.ID + "_" + filename
	if err := e.Storage.Save(ctx, doc.StoragePath, f); err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	pages, err := e.Extractor.Extract(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	chunks := e.Chunker.Split(pages)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index file", errors.New("no text extracted from "+filename))
	}
	return e.Indexer.ProcessDocument(ctx, doc.ID, chunks)
}

func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
