package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

func TestRetrieveEmptyIndexReturnsNoResults(t *testing.T) {
	retriever := NewHybridRetriever(newChunkIndexFake(), &embedderFake{}, RetrieverOptions{})

	out, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "What is X?", K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 0 {
		t.Fatalf("expected empty results, got %d", len(out.Results))
	}
}

func TestRetrieveNeverExceedsKOrDuplicates(t *testing.T) {
	var chunks []domain.Chunk
	for i := 0; i < 40; i++ {
		chunks = append(chunks, testChunk("doc", i, fmt.Sprintf("attention layer variant %d", i), domain.SectionBody, float32(i%5), 1, 0))
	}
	retriever := NewHybridRetriever(newChunkIndexFake(chunks...), &embedderFake{fallback: []float32{1, 1, 0}}, RetrieverOptions{})

	for _, k := range []int{1, 3, 7, 25} {
		out, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "attention layer", K: k})
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if len(out.Results) > k {
			t.Fatalf("k=%d: got %d results", k, len(out.Results))
		}
		seen := map[string]bool{}
		for i, r := range out.Results {
			if seen[r.Chunk.ID] {
				t.Fatalf("k=%d: duplicate chunk %s", k, r.Chunk.ID)
			}
			seen[r.Chunk.ID] = true
			if r.Rank != i {
				t.Fatalf("k=%d: expected rank %d, got %d", k, i, r.Rank)
			}
			if i > 0 && out.Results[i-1].Score < r.Score {
				t.Fatalf("k=%d: results not sorted at %d", k, i)
			}
		}
	}
}

func TestRetrieveCombinesSemanticAndLexical(t *testing.T) {
	index := newChunkIndexFake(
		testChunk("doc", 0, "unrelated preface text", domain.SectionBody, 0, 1, 0),
		testChunk("doc", 1, "transformer attention heads", domain.SectionBody, 1, 0, 0),
		testChunk("doc", 2, "recurrent cells", domain.SectionBody, 0.5, 0.5, 0),
	)
	retriever := NewHybridRetriever(index, &embedderFake{fallback: []float32{1, 0, 0}}, RetrieverOptions{SemanticWeight: 0.7})

	out, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "transformer attention", K: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Degraded {
		t.Fatalf("did not expect degraded retrieval")
	}
	top := out.Results[0]
	if top.Chunk.Order != 1 {
		t.Fatalf("expected chunk 1 on top, got %d", top.Chunk.Order)
	}
	if top.SemanticScore != 1 || top.LexicalScore != 1 {
		t.Fatalf("expected full semantic and lexical scores, got %f/%f", top.SemanticScore, top.LexicalScore)
	}
}

func TestRetrieveDegradesToLexicalWhenEmbeddingFails(t *testing.T) {
	index := newChunkIndexFake(
		testChunk("doc", 0, "graph neural networks", domain.SectionBody, 1, 0, 0),
		testChunk("doc", 1, "convolution kernels", domain.SectionBody, 0, 1, 0),
	)
	retriever := NewHybridRetriever(index, &embedderFake{err: errServiceDown}, RetrieverOptions{})

	out, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "graph networks", K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Degraded || len(out.Results) != 1 {
		t.Fatalf("expected one degraded lexical result, got degraded=%v n=%d", out.Degraded, len(out.Results))
	}
	if !out.Results[0].Degraded {
		t.Fatalf("expected result to be marked degraded")
	}
}

func TestRetrieveFailsWhenBothSearchesFail(t *testing.T) {
	index := newChunkIndexFake()
	index.semErr = errServiceDown
	index.lexErr = errServiceDown
	retriever := NewHybridRetriever(index, &embedderFake{}, RetrieverOptions{})

	_, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "anything", K: 5})
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	retriever := NewHybridRetriever(newChunkIndexFake(), &embedderFake{}, RetrieverOptions{})
	_, err := retriever.Retrieve(context.Background(), RetrievalRequest{Query: "   "})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExpandedRetrieveUnionsHypotheticalPass(t *testing.T) {
	index := newChunkIndexFake(
		testChunk("doc", 0, "dropout regularization", domain.SectionBody, 1, 0, 0),
		testChunk("doc", 1, "batch normalization statistics", domain.SectionBody, 0, 1, 0),
	)
	embedder := &embedderFake{
		vectors: map[string][]float32{
			"how is overfitting reduced": {1, 0, 0},
			"normalization passage":      {0, 1, 0},
		},
	}
	retriever := NewHybridRetriever(index, embedder, RetrieverOptions{})
	expander := NewQueryExpander(&generatorFake{reply: "normalization passage"}, embedder, 0)

	out, skipped, err := ExpandedRetrieve(context.Background(), retriever, expander, RetrievalRequest{Query: "how is overfitting reduced", K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped {
		t.Fatalf("did not expect expansion to be skipped")
	}
	if len(out.Results) != 2 {
		t.Fatalf("expected union of both passes, got %d", len(out.Results))
	}
}

func TestExpandedRetrieveSkipsSilentlyOnGenerationFailure(t *testing.T) {
	index := newChunkIndexFake(testChunk("doc", 0, "dropout regularization", domain.SectionBody, 1, 0, 0))
	embedder := &embedderFake{}
	retriever := NewHybridRetriever(index, embedder, RetrieverOptions{})
	expander := NewQueryExpander(&generatorFake{err: errServiceDown}, embedder, 0)

	out, skipped, err := ExpandedRetrieve(context.Background(), retriever, expander, RetrievalRequest{Query: "dropout", K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !skipped || len(out.Results) != 1 {
		t.Fatalf("expected base results with skipped expansion, got skipped=%v n=%d", skipped, len(out.Results))
	}
}
