package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type RetrieverOptions struct {
	SemanticCandidates int
	LexicalCandidates  int
	// SemanticWeight is alpha in alpha*semantic + (1-alpha)*lexical.
	SemanticWeight float64
}

func (o RetrieverOptions) normalize() RetrieverOptions {
	if o.SemanticCandidates <= 0 {
		o.SemanticCandidates = 30
	}
	if o.LexicalCandidates <= 0 {
		o.LexicalCandidates = 30
	}
	if o.SemanticWeight < 0 || o.SemanticWeight > 1 {
		o.SemanticWeight = 0.7
	}
	return o
}

type RetrievalRequest struct {
	Query string
	// Vector replaces the query embedding when set (HyDE pass).
	Vector []float32
	K      int
	Filter domain.SearchFilter
}

type RetrievalOutcome struct {
	Results  []domain.RetrievedResult
	Degraded bool
}

type HybridRetriever struct {
	index    ports.ChunkIndex
	embedder ports.Embedder
	opts     RetrieverOptions
}

func NewHybridRetriever(index ports.ChunkIndex, embedder ports.Embedder, opts RetrieverOptions) *HybridRetriever {
	return &HybridRetriever{index: index, embedder: embedder, opts: opts.normalize()}
}

// Retrieve returns at most K unique chunks. Without a usable embedding it
// falls back to lexical-only scoring and marks every result degraded.
func (r *HybridRetriever) Retrieve(ctx context.Context, req RetrievalRequest) (RetrievalOutcome, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return RetrievalOutcome{}, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	k := req.K
	if k <= 0 {
		k = 5
	}

	semantic, semErr := r.semanticPass(ctx, query, req.Vector, req.Filter)
	if err := ctx.Err(); err != nil {
		return RetrievalOutcome{}, err
	}
	lexical, lexErr := r.index.SearchLexical(ctx, query, r.opts.LexicalCandidates, req.Filter)
	if err := ctx.Err(); err != nil {
		return RetrievalOutcome{}, err
	}

	switch {
	case semErr != nil && lexErr != nil:
		return RetrievalOutcome{}, domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", errors.Join(semErr, lexErr))
	case semErr != nil:
		slog.Warn("retrieval_degraded", "reason", "semantic_unavailable", "error", semErr)
	case lexErr != nil:
		slog.Warn("lexical_search_failed", "error", lexErr)
		lexical = nil
	}

	degraded := semErr != nil
	results := combineHits(semantic, lexical, r.opts.SemanticWeight, degraded)
	results = trimResults(results, k)
	return RetrievalOutcome{Results: results, Degraded: degraded}, nil
}

func (r *HybridRetriever) semanticPass(ctx context.Context, query string, vector []float32, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	if len(vector) == 0 {
		if r.embedder == nil {
			return nil, errors.New("no embedder configured")
		}
		v, err := r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vector = v
	}
	hits, err := r.index.SearchSemantic(ctx, vector, r.opts.SemanticCandidates, filter)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return hits, nil
}

// combineHits merges both search modes by chunk id. Lexical scores are
// normalized against the best lexical hit of this query.
func combineHits(semantic, lexical []domain.ScoredChunk, alpha float64, degraded bool) []domain.RetrievedResult {
	maxLex := 0.0
	for _, h := range lexical {
		maxLex = max(maxLex, h.Score)
	}

	byID := make(map[string]*domain.RetrievedResult, len(semantic)+len(lexical))
	order := make([]string, 0, len(semantic)+len(lexical))
	get := func(c domain.Chunk) *domain.RetrievedResult {
		if res, ok := byID[c.ID]; ok {
			return res
		}
		res := &domain.RetrievedResult{Chunk: c}
		byID[c.ID] = res
		order = append(order, c.ID)
		return res
	}

	for _, h := range semantic {
		res := get(h.Chunk)
		res.SemanticScore = max(res.SemanticScore, clamp01(h.Score))
	}
	for _, h := range lexical {
		res := get(h.Chunk)
		norm := 0.0
		if maxLex > 0 {
			norm = h.Score / maxLex
		}
		res.LexicalScore = max(res.LexicalScore, norm)
	}

	out := make([]domain.RetrievedResult, 0, len(order))
	for _, id := range order {
		res := *byID[id]
		if degraded {
			res.Score = res.LexicalScore
			res.Degraded = true
		} else {
			res.Score = alpha*res.SemanticScore + (1-alpha)*res.LexicalScore
		}
		out = append(out, res)
	}
	sortResults(out)
	return out
}
