package usecase

import (
	"sort"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// paperRelevance is 0.4*keyword + 0.3*citations + 0.3*recency.
func paperRelevance(p domain.Paper, queryTokens map[string]struct{}, currentYear int) float64 {
	keyword := tokenOverlap(queryTokens, toTokenSet(p.Title+" "+p.Abstract))
	citations := min(float64(p.CitationCount)/100, 1)
	recency := 0.0
	if p.Year > 2000 && currentYear > 2000 {
		recency = min(float64(p.Year-2000)/float64(currentYear-2000), 1)
	}
	return 0.4*keyword + 0.3*citations + 0.3*recency
}

// rankPapers scores every node, then takes the best paper of each provider
// before filling the remaining slots by score.
func rankPapers(graph domain.CitationSubgraph, query string, limit int, now time.Time) []domain.RankedPaper {
	tokens := contentTokens(query)
	ranked := make([]domain.RankedPaper, 0, len(graph.Nodes))
	for _, id := range graph.Visited {
		p, ok := graph.Nodes[id]
		if !ok {
			continue
		}
		ranked = append(ranked, domain.RankedPaper{
			Paper:     p,
			Relevance: paperRelevance(p, tokens, now.Year()),
			Depth:     graph.Depths[id],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Relevance > ranked[j].Relevance })
	if limit <= 0 || len(ranked) <= limit {
		return ranked
	}

	selected := make([]domain.RankedPaper, 0, limit)
	taken := make([]bool, len(ranked))
	providers := make(map[string]struct{})
	for i, r := range ranked {
		if len(selected) >= limit {
			break
		}
		if _, ok := providers[r.Paper.Provider]; ok {
			continue
		}
		providers[r.Paper.Provider] = struct{}{}
		selected = append(selected, r)
		taken[i] = true
	}
	for i, r := range ranked {
		if len(selected) >= limit {
			break
		}
		if !taken[i] {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Relevance > selected[j].Relevance })
	return selected
}
