package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

func chunk(doc string, order int, text string, emb ...float32) domain.Chunk {
	return domain.Chunk{
		ID:         domain.ChunkID(doc, order),
		DocumentID: doc,
		Order:      order,
		Page:       1,
		Section:    domain.SectionBody,
		Text:       text,
		Embedding:  emb,
	}
}

func TestSearchOnEmptyIndexReturnsNothing(t *testing.T) {
	idx := New()

	sem, err := idx.SearchSemantic(context.Background(), []float32{1, 0}, 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("semantic search: %v", err)
	}
	lex, err := idx.SearchLexical(context.Background(), "what is transformer", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(sem) != 0 || len(lex) != 0 {
		t.Fatalf("expected no hits, got semantic=%d lexical=%d", len(sem), len(lex))
	}
}

func TestSearchSemanticRanksByCosine(t *testing.T) {
	idx := New()
	_ = idx.ReplaceDocument(context.Background(), "doc", []domain.Chunk{
		chunk("doc", 0, "alpha", 0, 1),
		chunk("doc", 1, "beta", 1, 0),
		chunk("doc", 2, "gamma", 1, 1),
	})

	hits, err := idx.SearchSemantic(context.Background(), []float32{1, 0}, 2, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("semantic search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Order != 1 || hits[1].Chunk.Order != 2 {
		t.Fatalf("unexpected order: %d, %d", hits[0].Chunk.Order, hits[1].Chunk.Order)
	}
}

func TestSearchLexicalScoresTokenFraction(t *testing.T) {
	idx := New()
	_ = idx.ReplaceDocument(context.Background(), "doc", []domain.Chunk{
		chunk("doc", 0, "attention mechanisms in transformers"),
		chunk("doc", 1, "recurrent networks"),
	})

	hits, err := idx.SearchLexical(context.Background(), "attention transformers", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Score != 1 {
		t.Fatalf("expected full token match score 1, got %f", hits[0].Score)
	}
}

func TestReplaceDocumentSwapsWholeChunkSet(t *testing.T) {
	idx := New()
	ctx := context.Background()
	_ = idx.ReplaceDocument(ctx, "doc", []domain.Chunk{chunk("doc", 0, "old one"), chunk("doc", 1, "old two")})
	_ = idx.ReplaceDocument(ctx, "doc", []domain.Chunk{chunk("doc", 0, "new one")})

	chunks, _ := idx.DocumentChunks(ctx, "doc")
	if len(chunks) != 1 || chunks[0].Text != "new one" {
		t.Fatalf("expected replaced chunk set, got %+v", chunks)
	}
	count, _ := idx.Count(ctx)
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestFilterRestrictsToDocument(t *testing.T) {
	idx := New()
	ctx := context.Background()
	_ = idx.ReplaceDocument(ctx, "a", []domain.Chunk{chunk("a", 0, "shared term")})
	_ = idx.ReplaceDocument(ctx, "b", []domain.Chunk{chunk("b", 0, "shared term")})

	hits, _ := idx.SearchLexical(ctx, "shared", 5, domain.SearchFilter{DocumentID: "b"})
	if len(hits) != 1 || hits[0].Chunk.DocumentID != "b" {
		t.Fatalf("expected one hit from b, got %+v", hits)
	}

	_ = idx.DeleteDocument(ctx, "b")
	hits, _ = idx.SearchLexical(ctx, "shared", 5, domain.SearchFilter{})
	if len(hits) != 1 || hits[0].Chunk.DocumentID != "a" {
		t.Fatalf("expected only a after delete, got %+v", hits)
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	idx := New()
	ctx := context.Background()
	full := []domain.Chunk{chunk("doc", 0, "x one"), chunk("doc", 1, "x two"), chunk("doc", 2, "x three")}
	_ = idx.ReplaceDocument(ctx, "doc", full)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				_ = idx.ReplaceDocument(ctx, "doc", full)
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				chunks, _ := idx.DocumentChunks(ctx, "doc")
				if len(chunks) != len(full) {
					t.Errorf("expected %d chunks, got %d", len(full), len(chunks))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestReturnedEmbeddingsAreDetached(t *testing.T) {
	ctx := context.Background()
	idx := New()
	input := []domain.Chunk{chunk("doc", 0, "attention weights", 1, 0)}
	_ = idx.ReplaceDocument(ctx, "doc", input)
	input[0].Embedding[0] = 42

	listed, _ := idx.DocumentChunks(ctx, "doc")
	listed[0].Embedding[0] = 7
	sem, _ := idx.SearchSemantic(ctx, []float32{1, 0}, 1, domain.SearchFilter{})
	sem[0].Chunk.Embedding[1] = 9
	lex, _ := idx.SearchLexical(ctx, "attention", 1, domain.SearchFilter{})
	lex[0].Chunk.Embedding[0] = 5

	again, _ := idx.DocumentChunks(ctx, "doc")
	if got := again[0].Embedding; got[0] != 1 || got[1] != 0 {
		t.Fatalf("indexed embedding mutated through a returned chunk: %v", got)
	}
	hits, _ := idx.SearchSemantic(ctx, []float32{1, 0}, 1, domain.SearchFilter{})
	if len(hits) != 1 || hits[0].Score < 0.999 {
		t.Fatalf("expected unchanged cosine score, got %+v", hits)
	}
}
