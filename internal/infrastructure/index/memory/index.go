package memory

import (
	"context"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type docSnapshot struct {
	chunks []domain.Chunk
	tokens []map[string]struct{}
	norms  []float64
}

// Index is an in-process chunk index. The document map is copy-on-write:
// readers load one immutable snapshot and never wait on writers.
type Index struct {
	writeMu sync.Mutex
	docs    atomic.Pointer[map[string]*docSnapshot]
}

func New() *Index {
	idx := &Index{}
	empty := make(map[string]*docSnapshot)
	idx.docs.Store(&empty)
	return idx
}

func (i *Index) ReplaceDocument(_ context.Context, documentID string, chunks []domain.Chunk) error {
	snap := buildSnapshot(chunks)

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	current := *i.docs.Load()
	next := make(map[string]*docSnapshot, len(current)+1)
	for id, s := range current {
		next[id] = s
	}
	next[documentID] = snap
	i.docs.Store(&next)
	return nil
}

func (i *Index) DeleteDocument(_ context.Context, documentID string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	current := *i.docs.Load()
	if _, ok := current[documentID]; !ok {
		return nil
	}
	next := make(map[string]*docSnapshot, len(current))
	for id, s := range current {
		if id != documentID {
			next[id] = s
		}
	}
	i.docs.Store(&next)
	return nil
}

func (i *Index) DocumentChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	snap, ok := (*i.docs.Load())[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Chunk, len(snap.chunks))
	for j, c := range snap.chunks {
		out[j] = detached(c)
	}
	return out, nil
}

func (i *Index) Count(context.Context) (int, error) {
	total := 0
	for _, snap := range *i.docs.Load() {
		total += len(snap.chunks)
	}
	return total, nil
}

func (i *Index) SearchSemantic(ctx context.Context, vector []float32, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	qNorm := norm(vector)
	if qNorm == 0 {
		return nil, nil
	}
	var hits []domain.ScoredChunk
	for _, snap := range i.scope(filter) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, c := range snap.chunks {
			if len(c.Embedding) != len(vector) || snap.norms[j] == 0 {
				continue
			}
			hits = append(hits, domain.ScoredChunk{Chunk: c, Score: dot(vector, c.Embedding) / (qNorm * snap.norms[j])})
		}
	}
	return detachHits(topHits(hits, limit)), nil
}

// SearchLexical scores a chunk by the fraction of distinct query tokens it
// contains. Chunks without any query token are not returned.
func (i *Index) SearchLexical(ctx context.Context, text string, limit int, filter domain.SearchFilter) ([]domain.ScoredChunk, error) {
	query := tokenize(text)
	if len(query) == 0 {
		return nil, nil
	}
	var hits []domain.ScoredChunk
	for _, snap := range i.scope(filter) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, c := range snap.chunks {
			matches := 0
			for token := range query {
				if _, ok := snap.tokens[j][token]; ok {
					matches++
				}
			}
			if matches == 0 {
				continue
			}
			hits = append(hits, domain.ScoredChunk{Chunk: c, Score: float64(matches) / float64(len(query))})
		}
	}
	return detachHits(topHits(hits, limit)), nil
}

func (i *Index) scope(filter domain.SearchFilter) []*docSnapshot {
	docs := *i.docs.Load()
	if filter.DocumentID != "" {
		if snap, ok := docs[filter.DocumentID]; ok {
			return []*docSnapshot{snap}
		}
		return nil
	}
	out := make([]*docSnapshot, 0, len(docs))
	for _, snap := range docs {
		out = append(out, snap)
	}
	return out
}

func buildSnapshot(chunks []domain.Chunk) *docSnapshot {
	snap := &docSnapshot{
		chunks: make([]domain.Chunk, len(chunks)),
		tokens: make([]map[string]struct{}, len(chunks)),
		norms:  make([]float64, len(chunks)),
	}
	for j, c := range chunks {
		snap.chunks[j] = detached(c)
	}
	for j, c := range snap.chunks {
		snap.tokens[j] = tokenize(c.Text)
		snap.norms[j] = norm(c.Embedding)
	}
	return snap
}

func topHits(hits []domain.ScoredChunk, limit int) []domain.ScoredChunk {
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		if hits[a].Chunk.DocumentID != hits[b].Chunk.DocumentID {
			return hits[a].Chunk.DocumentID < hits[b].Chunk.DocumentID
		}
		return hits[a].Chunk.Order < hits[b].Chunk.Order
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(field)) > 1 {
			out[field] = struct{}{}
		}
	}
	return out
}

// detached copies the embedding so snapshot vectors are never shared with
// callers.
func detached(c domain.Chunk) domain.Chunk {
	c.Embedding = slices.Clone(c.Embedding)
	return c
}

func detachHits(hits []domain.ScoredChunk) []domain.ScoredChunk {
	for j := range hits {
		hits[j].Chunk = detached(hits[j].Chunk)
	}
	return hits
}
