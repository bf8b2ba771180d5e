package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

const (
	stageRetrieval = "retrieval"
	stageSynthesis = "synthesis"
)

type AnswerOptions struct {
	TopK        int
	HyDEEnabled bool
}

// AnswerQuestionUseCase runs web research and the citation crawl alongside
// the local retrieval pipeline, then synthesizes one cited answer.
type AnswerQuestionUseCase struct {
	index       ports.ChunkIndex
	retriever   *HybridRetriever
	expander    *QueryExpander
	assembler   *ContextAssembler
	reranker    *Reranker
	web         *WebResearchEngine
	crawler     *CitationGraphCrawler
	synthesizer *AnswerSynthesizer
	opts        AnswerOptions
}

type AnswerDeps struct {
	Index       ports.ChunkIndex
	Retriever   *HybridRetriever
	Expander    *QueryExpander
	Assembler   *ContextAssembler
	Reranker    *Reranker
	Web         *WebResearchEngine
	Crawler     *CitationGraphCrawler
	Synthesizer *AnswerSynthesizer
}

func NewAnswerQuestionUseCase(deps AnswerDeps, opts AnswerOptions) *AnswerQuestionUseCase {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &AnswerQuestionUseCase{
		index:       deps.Index,
		retriever:   deps.Retriever,
		expander:    deps.Expander,
		assembler:   deps.Assembler,
		reranker:    deps.Reranker,
		web:         deps.Web,
		crawler:     deps.Crawler,
		synthesizer: deps.Synthesizer,
		opts:        opts,
	}
}

func (uc *AnswerQuestionUseCase) AnswerQuestion(ctx context.Context, q domain.Question) (*domain.Answer, error) {
	return uc.AnswerQuestionStream(ctx, q, nil)
}

// AnswerQuestionStream emits progress on events while answering. The caller
// owns the channel and closes it after the call returns.
func (uc *AnswerQuestionUseCase) AnswerQuestionStream(ctx context.Context, q domain.Question, events domain.ProgressSink) (*domain.Answer, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer question", errors.New("query is required"))
	}
	started := time.Now()

	var (
		webResult WebResearchResult
		graph     domain.CitationSubgraph
	)
	g, gctx := errgroup.WithContext(ctx)
	if q.UseWebResearch && uc.web != nil {
		g.Go(func() error {
			res, err := uc.web.Research(gctx, q.Query, events)
			if err != nil {
				return err
			}
			webResult = res
			return nil
		})
	}
	if q.UseWebResearch && uc.crawler != nil {
		g.Go(func() error {
			res, err := uc.crawler.Crawl(gctx, CrawlRequest{Query: q.Query, Seeds: uc.crawlSeeds(gctx, q)}, events)
			if err != nil {
				return err
			}
			graph = res
			return nil
		})
	}

	local, localErr := uc.localEvidence(gctx, q, events)
	waitErr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrCancelled, "answer question", err)
	}
	if waitErr != nil {
		return nil, domain.WrapError(domain.ErrCancelled, "answer question", waitErr)
	}
	diag := local.diagnostics
	if localErr != nil {
		if !domain.IsKind(localErr, domain.ErrRetrievalUnavailable) {
			return nil, localErr
		}
		slog.Warn("document_evidence_unavailable", "error", localErr)
		diag.RetrievalDegraded = true
	}

	events.Emit(ctx, domain.ProgressEvent{Stage: stageSynthesis, Kind: domain.ProgressStageStarted})
	answer, err := uc.synthesizer.Synthesize(ctx, q.Query, Evidence{
		Windows: local.windows,
		Web:     webResult.Sources,
		Papers:  graph.Ranked,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.WrapError(domain.ErrCancelled, "answer question", ctxErr)
		}
		return nil, err
	}
	events.Emit(ctx, domain.ProgressEvent{Stage: stageSynthesis, Kind: domain.ProgressStageFinished, Count: len(answer.Sources)})

	diag.WebSources = len(webResult.Sources)
	diag.WebErrors = webResult.ProviderErrors + webResult.FetchErrors
	diag.AcademicSources = len(graph.Ranked)
	diag.Crawl = graph.Stats
	diag.DurationMS = time.Since(started).Milliseconds()
	answer.Diagnostics = diag
	return answer, nil
}

type localResult struct {
	windows     []domain.ContextWindow
	diagnostics domain.Diagnostics
}

// localEvidence runs expand, retrieve, assemble, rerank and fit on the
// calling goroutine.
func (uc *AnswerQuestionUseCase) localEvidence(ctx context.Context, q domain.Question, events domain.ProgressSink) (localResult, error) {
	var res localResult
	events.Emit(ctx, domain.ProgressEvent{Stage: stageRetrieval, Kind: domain.ProgressStageStarted})

	req := RetrievalRequest{
		Query:  q.Query,
		K:      uc.opts.TopK,
		Filter: domain.SearchFilter{DocumentID: q.DocumentID},
	}
	var (
		outcome RetrievalOutcome
		err     error
	)
	if uc.opts.HyDEEnabled && uc.expander != nil {
		var skipped bool
		outcome, skipped, err = ExpandedRetrieve(ctx, uc.retriever, uc.expander, req)
		res.diagnostics.ExpansionSkipped = skipped
	} else {
		outcome, err = uc.retriever.Retrieve(ctx, req)
	}
	if err != nil {
		return res, err
	}
	res.diagnostics.RetrievalDegraded = outcome.Degraded
	res.diagnostics.PDFResults = len(outcome.Results)

	windows, err := uc.assembler.Assemble(ctx, outcome.Results)
	if err != nil {
		return res, err
	}
	windows = uc.reranker.Rerank(q.Query, windows)
	res.windows = uc.assembler.Fit(windows)

	events.Emit(ctx, domain.ProgressEvent{Stage: stageRetrieval, Kind: domain.ProgressStageFinished, Count: len(res.windows)})
	return res, nil
}

// crawlSeeds combines explicit seeds with identifiers cited by the document.
func (uc *AnswerQuestionUseCase) crawlSeeds(ctx context.Context, q domain.Question) []string {
	seeds := append([]string(nil), q.SeedPaperIDs...)
	if q.DocumentID == "" || uc.index == nil {
		return seeds
	}
	chunks, err := uc.index.DocumentChunks(ctx, q.DocumentID)
	if err != nil {
		slog.Warn("bibliography_unavailable", "document_id", q.DocumentID, "error", err)
		return seeds
	}
	return append(seeds, bibliographyIDs(chunks)...)
}
