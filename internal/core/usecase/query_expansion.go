package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/ports"
)

// QueryExpander builds a hypothetical-answer embedding for a second
// retrieval pass.
type QueryExpander struct {
	generator ports.TextGenerator
	embedder  ports.Embedder
	timeout   time.Duration
}

func NewQueryExpander(generator ports.TextGenerator, embedder ports.Embedder, timeout time.Duration) *QueryExpander {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &QueryExpander{generator: generator, embedder: embedder, timeout: timeout}
}

func (e *QueryExpander) HypotheticalEmbedding(ctx context.Context, query string) ([]float32, error) {
	if e == nil || e.generator == nil || e.embedder == nil {
		return nil, errors.New("query expansion not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	passage, err := e.generator.GenerateFromPrompt(ctx, buildHypotheticalAnswerPrompt(query))
	if err != nil {
		return nil, fmt.Errorf("generate hypothetical answer: %w", err)
	}
	vector, err := e.embedder.EmbedQuery(ctx, passage)
	if err != nil {
		return nil, fmt.Errorf("embed hypothetical answer: %w", err)
	}
	return vector, nil
}

// ExpandedRetrieve runs the plain pass and, when expansion succeeds, a HyDE
// pass whose results are unioned in. Expansion failures never fail the call.
func ExpandedRetrieve(ctx context.Context, retriever *HybridRetriever, expander *QueryExpander, req RetrievalRequest) (RetrievalOutcome, bool, error) {
	base, err := retriever.Retrieve(ctx, req)
	if err != nil {
		return RetrievalOutcome{}, false, err
	}
	if expander == nil || base.Degraded {
		return base, expander != nil, nil
	}

	vector, err := expander.HypotheticalEmbedding(ctx, req.Query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RetrievalOutcome{}, false, ctxErr
		}
		slog.Warn("query_expansion_skipped", "error", err)
		return base, true, nil
	}

	hydeReq := req
	hydeReq.Vector = vector
	hyde, err := retriever.Retrieve(ctx, hydeReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RetrievalOutcome{}, false, ctxErr
		}
		slog.Warn("query_expansion_skipped", "error", err)
		return base, true, nil
	}
	if hyde.Degraded {
		return base, true, nil
	}

	k := req.K
	if k <= 0 {
		k = 5
	}
	return RetrievalOutcome{Results: mergeRetrievalPasses(base.Results, hyde.Results, k)}, false, nil
}
