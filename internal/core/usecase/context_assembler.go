package usecase

import (
	"context"
	"log/slog"
	"sort"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type ContextAssembler struct {
	index       ports.ChunkIndex
	neighbors   int
	budgetChars int
}

func NewContextAssembler(index ports.ChunkIndex, neighbors, budgetChars int) *ContextAssembler {
	if neighbors < 0 {
		neighbors = 0
	}
	if budgetChars <= 0 {
		budgetChars = 6000
	}
	return &ContextAssembler{index: index, neighbors: neighbors, budgetChars: budgetChars}
}

type span struct {
	lo, hi int
	anchor domain.RetrievedResult
}

// Assemble widens each hit by the configured number of neighbours and merges
// windows of one document that overlap or touch. Windows come back ordered by
// the rank of their anchor.
func (a *ContextAssembler) Assemble(ctx context.Context, results []domain.RetrievedResult) ([]domain.ContextWindow, error) {
	if len(results) == 0 {
		return nil, nil
	}

	docChunks := make(map[string][]domain.Chunk)
	spans := make(map[string][]span)
	docOrder := make([]string, 0, 4)

	for _, res := range results {
		docID := res.Chunk.DocumentID
		chunks, loaded := docChunks[docID]
		if !loaded {
			var err error
			chunks, err = a.index.DocumentChunks(ctx, docID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				slog.Warn("context_neighbors_unavailable", "document_id", docID, "error", err)
				chunks = nil
			}
			sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Order < chunks[j].Order })
			docChunks[docID] = chunks
			docOrder = append(docOrder, docID)
		}

		pos := sort.Search(len(chunks), func(i int) bool { return chunks[i].Order >= res.Chunk.Order })
		if pos >= len(chunks) || chunks[pos].ID != res.Chunk.ID {
			// chunk vanished from the index after retrieval; keep it alone
			docChunks[docID] = insertChunk(chunks, pos, res.Chunk)
			chunks = docChunks[docID]
			shiftSpans(spans[docID], pos)
		}
		spans[docID] = append(spans[docID], span{
			lo:     max(0, pos-a.neighbors),
			hi:     min(len(chunks)-1, pos+a.neighbors),
			anchor: res,
		})
	}

	windows := make([]domain.ContextWindow, 0, len(results))
	for _, docID := range docOrder {
		chunks := docChunks[docID]
		for _, s := range mergeSpans(spans[docID]) {
			windows = append(windows, domain.ContextWindow{
				Anchor: s.anchor,
				Chunks: append([]domain.Chunk(nil), chunks[s.lo:s.hi+1]...),
			})
		}
	}
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].Anchor.Rank < windows[j].Anchor.Rank })
	return windows, nil
}

// Fit drops whole windows from the end of the list until the total text fits
// the character budget. The first window is always kept.
func (a *ContextAssembler) Fit(windows []domain.ContextWindow) []domain.ContextWindow {
	if len(windows) == 0 {
		return windows
	}
	total := 0
	for _, w := range windows {
		total += w.Len()
	}
	end := len(windows)
	for end > 1 && total > a.budgetChars {
		end--
		total -= windows[end].Len()
	}
	return windows[:end]
}

func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([]span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].lo < sorted[j].lo })

	out := []span{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.lo > last.hi+1 {
			out = append(out, s)
			continue
		}
		last.hi = max(last.hi, s.hi)
		if s.anchor.Rank < last.anchor.Rank {
			last.anchor = s.anchor
		}
	}
	return out
}

func insertChunk(chunks []domain.Chunk, pos int, c domain.Chunk) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(chunks)+1)
	out = append(out, chunks[:pos]...)
	out = append(out, c)
	return append(out, chunks[pos:]...)
}

func shiftSpans(spans []span, pos int) {
	for i := range spans {
		if spans[i].lo >= pos {
			spans[i].lo++
		}
		if spans[i].hi >= pos {
			spans[i].hi++
		}
	}
}
