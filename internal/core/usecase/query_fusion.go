package usecase

import (
	"sort"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// sortResults orders by combined score, then by document and chunk order so
// equal scores always come out the same way.
func sortResults(results []domain.RetrievedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.DocumentID != results[j].Chunk.DocumentID {
			return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
		}
		if results[i].Chunk.Order != results[j].Chunk.Order {
			return results[i].Chunk.Order < results[j].Chunk.Order
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}

// trimResults keeps the first limit results and renumbers Rank.
func trimResults(results []domain.RetrievedResult, limit int) []domain.RetrievedResult {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i
	}
	return results
}

// mergeRetrievalPasses unions two result lists by chunk id, keeping the
// higher-scored copy of each chunk.
func mergeRetrievalPasses(primary, secondary []domain.RetrievedResult, limit int) []domain.RetrievedResult {
	byID := make(map[string]int, len(primary)+len(secondary))
	out := make([]domain.RetrievedResult, 0, len(primary)+len(secondary))
	add := func(list []domain.RetrievedResult) {
		for _, res := range list {
			idx, ok := byID[res.Chunk.ID]
			if !ok {
				byID[res.Chunk.ID] = len(out)
				out = append(out, res)
				continue
			}
			if res.Score > out[idx].Score {
				res.Degraded = res.Degraded && out[idx].Degraded
				out[idx] = res
			}
		}
	}
	add(primary)
	add(secondary)

	sortResults(out)
	return trimResults(out, limit)
}
