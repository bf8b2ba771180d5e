package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type chunkIndexFake struct {
	mu        sync.Mutex
	docs      map[string][]domain.Chunk
	semErr    error
	lexErr    error
	chunksErr error
	replaces  int
}

func newChunkIndexFake(chunks ...domain.Chunk) *chunkIndexFake {
	f := &chunkIndexFake{docs: make(map[string][]domain.Chunk)}
	for _, c := range chunks {
		f.docs[c.DocumentID] = append(f.docs[c.DocumentID], c)
	}
	return f
}

func (f *chunkIndexFake) ReplaceDocument(_ context.Context, documentID string, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces++
	f.docs[documentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (f *chunkIndexFake) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, documentID)
	return nil
}

func (f *chunkIndexFake) DocumentChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunksErr != nil {
		return nil, f.chunksErr
	}
	return append([]domain.Chunk(nil), f.docs[documentID]...), nil
}

func (f *chunkIndexFake) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.docs {
		n += len(c)
	}
	return n, nil
}

func (f *chunkIndexFake) scope(filter domain.SearchFilter) []domain.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Chunk
	for id, chunks := range f.docs {
		if filter.DocumentID != "" && filter.DocumentID != id {
			continue
		}
		out = append(out, chunks...)
	}
	return out
}

func (f *chunkIndexFake) SearchSemantic(_ context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	if f.semErr != nil {
		return nil, f.semErr
	}
	var hits []domain.ScoredChunk
	for _, c := range f.scope(filter) {
		if len(c.Embedding) != len(vector) {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: c, Score: cosine(vector, c.Embedding)})
	}
	return limitHits(hits, limit), nil
}

func (f *chunkIndexFake) SearchLexical(_ context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	if f.lexErr != nil {
		return nil, f.lexErr
	}
	query := contentTokens(text)
	var hits []domain.ScoredChunk
	for _, c := range f.scope(filter) {
		score := tokenOverlap(query, toTokenSet(c.Text))
		if score > 0 {
			hits = append(hits, domain.ScoredChunk{Chunk: c, Score: score})
		}
	}
	return limitHits(hits, limit), nil
}

func limitHits(hits []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type embedderFake struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *embedderFake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return []float32{1, 0, 0}, nil
}

type generatorFake struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	block   bool
}

func (f *generatorFake) GenerateFromPrompt(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

var errServiceDown = errors.New("service down")

func testChunk(doc string, order int, text string, section domain.SectionKind, emb ...float32) domain.Chunk {
	return domain.Chunk{
		ID:         domain.ChunkID(doc, order),
		DocumentID: doc,
		Order:      order,
		Page:       order/2 + 1,
		Section:    section,
		Text:       text,
		Embedding:  emb,
	}
}
