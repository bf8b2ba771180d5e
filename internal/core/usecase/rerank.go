package usecase

import (
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type RerankWeights struct {
	Semantic float64
	Lexical  float64
	Locality float64
	Section  float64
}

func DefaultRerankWeights() RerankWeights {
	return RerankWeights{Semantic: 0.5, Lexical: 0.3, Locality: 0.1, Section: 0.1}
}

type Reranker struct {
	weights RerankWeights
}

func NewReranker(weights RerankWeights) *Reranker {
	if weights.Semantic < 0 || weights.Lexical < 0 || weights.Locality < 0 || weights.Section < 0 ||
		weights.Semantic+weights.Lexical+weights.Locality+weights.Section == 0 {
		weights = DefaultRerankWeights()
	}
	return &Reranker{weights: weights}
}

// Rerank scores every window and returns them in descending score order,
// ties broken by original retrieval rank.
func (r *Reranker) Rerank(query string, windows []domain.ContextWindow) []domain.ContextWindow {
	if len(windows) == 0 {
		return windows
	}
	out := append([]domain.ContextWindow(nil), windows...)

	queryTokens := contentTokens(query)
	if len(queryTokens) == 0 {
		queryTokens = toTokenSet(query)
	}
	hints := inferQuerySections(query)
	best := bestAnchor(out)

	for i := range out {
		anchor := out[i].Anchor
		semantic := anchor.SemanticScore
		if anchor.Degraded {
			semantic = anchor.Score
		}
		lexical := tokenOverlap(queryTokens, toTokenSet(out[i].Text()))
		locality := 0.0
		if anchor.Chunk.DocumentID == best.Chunk.DocumentID {
			delta := math.Abs(float64(anchor.Chunk.Order - best.Chunk.Order))
			locality = 1 / (1 + delta)
		}
		section := 0.0
		if windowMatchesSections(out[i], hints) {
			section = 1
		}
		out[i].Anchor.RerankScore = r.weights.Semantic*semantic +
			r.weights.Lexical*lexical +
			r.weights.Locality*locality +
			r.weights.Section*section
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Anchor.RerankScore != out[j].Anchor.RerankScore {
			return out[i].Anchor.RerankScore > out[j].Anchor.RerankScore
		}
		return out[i].Anchor.Rank < out[j].Anchor.Rank
	})
	return out
}

func bestAnchor(windows []domain.ContextWindow) domain.RetrievedResult {
	best := windows[0].Anchor
	for _, w := range windows[1:] {
		if w.Anchor.Rank < best.Rank {
			best = w.Anchor
		}
	}
	return best
}

var sectionCues = []struct {
	kind domain.SectionKind
	cues []string
}{
	{domain.SectionTable, []string{"table", "tabular", "how many", "how much", "percentage", "percent", "number of", "value of", "rate", "accuracy"}},
	{domain.SectionEquation, []string{"equation", "formula", "derive", "derivation", "proof", "theorem", "lemma", "loss function"}},
	{domain.SectionFigure, []string{"figure", "fig.", "chart", "plot", "diagram", "graph", "image", "illustrat"}},
	{domain.SectionHeading, []string{"chapter", "section", "title", "heading", "outline", "structure of the paper"}},
}

// inferQuerySections maps cue words in the query to the section kinds most
// likely to hold the answer.
func inferQuerySections(query string) map[domain.SectionKind]struct{} {
	lower := strings.ToLower(query)
	hints := make(map[domain.SectionKind]struct{})
	for _, group := range sectionCues {
		for _, cue := range group.cues {
			if strings.Contains(lower, cue) {
				hints[group.kind] = struct{}{}
				break
			}
		}
	}
	if strings.ContainsAny(lower, "%") {
		hints[domain.SectionTable] = struct{}{}
	}
	return hints
}

func windowMatchesSections(w domain.ContextWindow, hints map[domain.SectionKind]struct{}) bool {
	if len(hints) == 0 {
		return false
	}
	for _, c := range w.Chunks {
		if _, ok := hints[c.Section]; ok {
			return true
		}
	}
	if len(w.Chunks) == 0 {
		_, ok := hints[w.Anchor.Chunk.Section]
		return ok
	}
	return false
}
