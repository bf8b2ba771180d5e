package usecase

import (
	"context"
	"strings"
	"testing"
	"time"


	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type answerFixture struct {
	index     *chunkIndexFake
	embedder  *embedderFake
	generator *generatorFake
	web       *webProviderFake
	fetcher   *pageFetcherFake
	papers    *paperProviderFake
}

func newAnswerFixture() *answerFixture {
	index := newChunkIndexFake(
		testChunk("doc-1", 0, "Introduction", domain.SectionHeading, 1, 0, 0),
		testChunk("doc-1", 1, "Sparse attention lowers memory use on long inputs.", domain.SectionBody, 1, 0, 0),
		testChunk("doc-1", 2, "References", domain.SectionHeading, 0, 1, 0),
		testChunk("doc-1", 3, "[1] Vaswani et al. doi:10.1000/attn", domain.SectionBody, 0, 1, 0),
	)
	papers := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	papers.papers["doi:10.1000/attn"] = domain.Paper{Title: "Attention is all you need", Year: 2017, CitationCount: 900, Abstract: "Sparse attention and memory."}
	return &answerFixture{
		index:     index,
		embedder:  &embedderFake{},
		generator: &generatorFake{reply: "Sparse attention lowers memory use [1]."},
		web: &webProviderFake{name: "wikipedia", hits: []domain.WebHit{{
			URL:     "https://en.wikipedia.org/wiki/Attention",
			Title:   "Attention",
			Content: strings.Repeat("Sparse attention reduces memory in transformers. ", 80),
		}}},
		fetcher: &pageFetcherFake{},
		papers:  papers,
	}
}

func (f *answerFixture) useCase(hyde bool) *AnswerQuestionUseCase {
	web := NewWebResearchEngine([]ports.WebSearchProvider{f.web}, f.fetcher, nil, WebResearchOptions{ReliabilityThreshold: 0.1})
	web.now = func() time.Time { return researchNow }
	return NewAnswerQuestionUseCase(AnswerDeps{
		Index:       f.index,
		Retriever:   NewHybridRetriever(f.index, f.embedder, RetrieverOptions{}),
		Expander:    NewQueryExpander(f.generator, f.embedder, time.Second),
		Assembler:   NewContextAssembler(f.index, 1, 8000),
		Reranker:    NewReranker(DefaultRerankWeights()),
		Web:         web,
		Crawler:     NewCitationGraphCrawler(providersOf(f.papers), newPaperCacheFake(), nil, CrawlOptions{MaxDepth: 1}),
		Synthesizer: NewAnswerSynthesizer(f.generator, SynthesizerOptions{}),
	}, AnswerOptions{TopK: 3, HyDEEnabled: hyde})
}

func TestAnswerQuestionDocumentOnlyOmitsWebEvidence(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()

	answer, err := f.useCase(false).AnswerQuestion(context.Background(), domain.Question{
		Query:      "sparse attention memory",
		DocumentID: "doc-1",
	})
	if err != nil {
		t.Fatalf("AnswerQuestion() error = %v", err)
	}
	if !answer.Generated || answer.Text == "" {
		t.Fatalf("expected generated answer, got %+v", answer)
	}
	for _, s := range answer.Sources {
		if s.Kind != domain.SourcePDF {
			t.Fatalf("expected only pdf sources, got %+v", s)
		}
	}
	if f.web.calls != 0 || f.papers.totalFetches() != 0 {
		t.Fatalf("expected no web or crawl calls, got %d search and %d fetches", f.web.calls, f.papers.totalFetches())
	}
	if answer.Diagnostics.PDFResults == 0 || answer.Diagnostics.WebSources != 0 {
		t.Fatalf("unexpected diagnostics: %+v", answer.Diagnostics)
	}
}

func TestAnswerQuestionCombinesAllEvidenceKinds(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()

	answer, err := f.useCase(true).AnswerQuestion(context.Background(), domain.Question{
		Query:          "sparse attention memory",
		DocumentID:     "doc-1",
		UseWebResearch: true,
	})
	if err != nil {
		t.Fatalf("AnswerQuestion() error = %v", err)
	}
	kinds := map[domain.SourceKind]bool{}
	for _, s := range answer.Sources {
		kinds[s.Kind] = true
	}
	for _, want := range []domain.SourceKind{domain.SourcePDF, domain.SourceWeb, domain.SourceAcademic} {
		if !kinds[want] {
			t.Fatalf("expected %s source, got %+v", want, answer.Sources)
		}
	}
	if f.papers.fetches["doi:10.1000/attn"] != 1 {
		t.Fatalf("expected bibliography seed fetched once, got %v", f.papers.fetches)
	}
	if answer.Diagnostics.Crawl.PapersFetched != 1 || answer.Diagnostics.WebSources != 1 {
		t.Fatalf("unexpected diagnostics: %+v", answer.Diagnostics)
	}
}

func TestAnswerQuestionCancelledReturnsNoPartialAnswer(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()
	f.generator.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	answer, err := f.useCase(false).AnswerQuestion(ctx, domain.Question{Query: "sparse attention", DocumentID: "doc-1"})
	if !domain.IsKind(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if answer != nil {
		t.Fatalf("expected no answer, got %+v", answer)
	}
}

func TestAnswerQuestionWithoutAnyEvidence(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()
	f.index = newChunkIndexFake()

	_, err := f.useCase(false).AnswerQuestion(context.Background(), domain.Question{Query: "unknown topic"})
	if !domain.IsKind(err, domain.ErrNoEvidence) {
		t.Fatalf("expected no evidence, got %v", err)
	}
}

func TestAnswerQuestionRecoversFromRetrievalOutage(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()
	f.index.semErr = errServiceDown
	f.index.lexErr = errServiceDown

	answer, err := f.useCase(false).AnswerQuestion(context.Background(), domain.Question{
		Query:          "sparse attention memory",
		UseWebResearch: true,
	})
	if err != nil {
		t.Fatalf("AnswerQuestion() error = %v", err)
	}
	if !answer.Diagnostics.RetrievalDegraded {
		t.Fatalf("expected degraded retrieval flag")
	}
	for _, s := range answer.Sources {
		if s.Kind == domain.SourcePDF {
			t.Fatalf("expected no pdf sources, got %+v", s)
		}
	}
}

func TestAnswerQuestionRejectsEmptyQuery(t *testing.T) {
	_, err := newAnswerFixture().useCase(false).AnswerQuestion(context.Background(), domain.Question{Query: "   "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAnswerQuestionStreamEmitsStages(t *testing.T) {
	defer verifyNoLeaks(t)
	f := newAnswerFixture()
	events := make(chan domain.ProgressEvent, 256)

	if _, err := f.useCase(false).AnswerQuestionStream(context.Background(), domain.Question{Query: "sparse attention", DocumentID: "doc-1"}, events); err != nil {
		t.Fatalf("AnswerQuestionStream() error = %v", err)
	}
	close(events)

	var stages []string
	for ev := range events {
		if ev.Kind == domain.ProgressStageStarted {
			stages = append(stages, ev.Stage)
		}
	}
	if len(stages) != 2 || stages[0] != stageRetrieval || stages[1] != stageSynthesis {
		t.Fatalf("expected retrieval then synthesis, got %v", stages)
	}
}
