package domain

type SearchFilter struct {
	DocumentID string
}

// ScoredChunk is a raw hit from one ChunkIndex search mode.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// RetrievedResult is scoped to one query.
type RetrievedResult struct {
	Chunk         Chunk   `json:"chunk"`
	Rank          int     `json:"rank"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	Score         float64 `json:"score"`
	RerankScore   float64 `json:"rerank_score"`
	// Degraded marks results produced without the embedding service.
	Degraded bool `json:"degraded,omitempty"`
}

// ContextWindow is a contiguous run of chunks of one document around a hit.
type ContextWindow struct {
	Anchor RetrievedResult `json:"anchor"`
	Chunks []Chunk         `json:"chunks"`
}

func (w ContextWindow) DocumentID() string {
	return w.Anchor.Chunk.DocumentID
}

func (w ContextWindow) FirstOrder() int {
	if len(w.Chunks) == 0 {
		return w.Anchor.Chunk.Order
	}
	return w.Chunks[0].Order
}

func (w ContextWindow) LastOrder() int {
	if len(w.Chunks) == 0 {
		return w.Anchor.Chunk.Order
	}
	return w.Chunks[len(w.Chunks)-1].Order
}

func (w ContextWindow) Text() string {
	size := 0
	for _, c := range w.Chunks {
		size += len(c.Text) + 1
	}
	buf := make([]byte, 0, size)
	for i, c := range w.Chunks {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, c.Text...)
	}
	return string(buf)
}

func (w ContextWindow) Len() int {
	n := 0
	for i, c := range w.Chunks {
		if i > 0 {
			n++
		}
		n += len(c.Text)
	}
	return n
}
