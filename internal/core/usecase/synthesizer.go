package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

const (
	weightPDF      = 0.6
	weightWeb      = 0.2
	weightAcademic = 0.2

	// Applied to confidence when no document evidence was selected.
	noDocumentPenalty = 0.6
	degradedPenalty   = 0.5

	sourceSnippetLimit = 200
	fallbackItems      = 3
)

type SynthesizerOptions struct {
	BudgetChars       int
	GenerationTimeout time.Duration
}

// Evidence is everything the answer may cite.
type Evidence struct {
	Windows []domain.ContextWindow
	Web     []domain.WebPage
	Papers  []domain.RankedPaper
}

func (e Evidence) Empty() bool {
	return len(e.Windows) == 0 && len(e.Web) == 0 && len(e.Papers) == 0
}

type evidenceItem struct {
	source domain.SearchSource
	text   string
	score  float64
}

type AnswerSynthesizer struct {
	generator ports.TextGenerator
	opts      SynthesizerOptions
}

func NewAnswerSynthesizer(generator ports.TextGenerator, opts SynthesizerOptions) *AnswerSynthesizer {
	if opts.BudgetChars <= 0 {
		opts.BudgetChars = 12000
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 90 * time.Second
	}
	return &AnswerSynthesizer{generator: generator, opts: opts}
}

// Synthesize selects evidence within the budget, scores the answer and
// generates its text. Generation failures produce an extractive answer.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, query string, ev Evidence) (*domain.Answer, error) {
	items := collectEvidence(ev)
	if len(items) == 0 {
		return nil, domain.WrapError(domain.ErrNoEvidence, "synthesize answer", errors.New("no document, web or academic evidence"))
	}
	selected := selectEvidence(items, s.opts.BudgetChars)

	answer := &domain.Answer{
		Sources:      make([]domain.SearchSource, 0, len(selected)),
		Confidence:   answerConfidence(selected),
		Completeness: answerCompleteness(query, selected),
	}
	for _, item := range selected {
		answer.Sources = append(answer.Sources, item.source)
	}

	text, err := s.generate(ctx, query, selected)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("answer_generation_failed", "error", domain.WrapError(domain.ErrGenerationFailure, "generate answer", err))
		answer.Text = extractiveAnswer(selected)
		return answer, nil
	}
	answer.Text = text
	answer.Generated = true
	return answer, nil
}

func (s *AnswerSynthesizer) generate(ctx context.Context, query string, selected []evidenceItem) (string, error) {
	if s.generator == nil {
		return "", errors.New("no generator configured")
	}
	gctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	text, err := s.generator.GenerateFromPrompt(gctx, buildSynthesisPrompt(query, selected))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty generation")
	}
	return text, nil
}

// collectEvidence lists pdf, academic and web items in that order so the
// stable sort breaks score ties in favour of the document.
func collectEvidence(ev Evidence) []evidenceItem {
	items := make([]evidenceItem, 0, len(ev.Windows)+len(ev.Web)+len(ev.Papers))
	for _, w := range ev.Windows {
		text := w.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		score := w.Anchor.RerankScore
		if w.Anchor.Degraded {
			score *= degradedPenalty
		}
		page := w.Anchor.Chunk.Page
		items = append(items, evidenceItem{
			source: domain.SearchSource{
				Kind:        domain.SourcePDF,
				Locator:     strconv.Itoa(page),
				Page:        page,
				SourceType:  string(w.Anchor.Chunk.Section),
				Reliability: clamp01(score),
				Snippet:     truncateRunes(strings.TrimSpace(w.Anchor.Chunk.Text), sourceSnippetLimit),
			},
			text:  text,
			score: clamp01(score),
		})
	}
	for _, rp := range ev.Papers {
		p := rp.Paper
		text := strings.TrimSpace(p.Title + "\n" + p.Abstract)
		if text == "" {
			continue
		}
		link := paperURL(p)
		locator := link
		if locator == "" {
			locator = p.ID
		}
		items = append(items, evidenceItem{
			source: domain.SearchSource{
				Kind:        domain.SourceAcademic,
				Locator:     locator,
				URL:         link,
				Title:       p.Title,
				SourceType:  sourceTypeAcademic,
				Reliability: clamp01(rp.Relevance),
				Snippet:     truncateRunes(firstNonEmpty(p.Abstract, p.Title), sourceSnippetLimit),
			},
			text:  text,
			score: clamp01(rp.Relevance),
		})
	}
	for _, page := range ev.Web {
		if strings.TrimSpace(page.Content) == "" {
			continue
		}
		items = append(items, evidenceItem{
			source: domain.SearchSource{
				Kind:        domain.SourceWeb,
				Locator:     page.URL,
				URL:         page.URL,
				Title:       page.Title,
				SourceType:  page.SourceType,
				Reliability: clamp01(page.Reliability),
				Snippet:     truncateRunes(firstNonEmpty(page.Snippet, page.Content), sourceSnippetLimit),
			},
			text:  page.Content,
			score: clamp01(page.Reliability),
		})
	}
	return items
}

// selectEvidence is greedy by score within budget runes. When even the best
// item does not fit it is truncated to the budget.
func selectEvidence(items []evidenceItem, budget int) []evidenceItem {
	sorted := append([]evidenceItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	used := 0
	selected := make([]evidenceItem, 0, len(sorted))
	for _, item := range sorted {
		size := len([]rune(item.text))
		if used+size > budget {
			continue
		}
		used += size
		selected = append(selected, item)
	}
	if len(selected) == 0 && len(sorted) > 0 {
		best := sorted[0]
		best.text = truncateRunes(best.text, budget)
		selected = append(selected, best)
	}
	return selected
}

func answerConfidence(selected []evidenceItem) float64 {
	sums := map[domain.SourceKind]float64{}
	counts := map[domain.SourceKind]int{}
	for _, item := range selected {
		sums[item.source.Kind] += item.score
		counts[item.source.Kind]++
	}
	weights := map[domain.SourceKind]float64{
		domain.SourcePDF:      weightPDF,
		domain.SourceWeb:      weightWeb,
		domain.SourceAcademic: weightAcademic,
	}
	var total, weightSum float64
	for kind, w := range weights {
		if counts[kind] == 0 {
			continue
		}
		total += w * sums[kind] / float64(counts[kind])
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	confidence := total / weightSum
	if counts[domain.SourcePDF] == 0 {
		confidence *= noDocumentPenalty
	}
	return clamp01(confidence)
}

var claimSeparators = regexp.MustCompile(`(?i)\s+(?:and|vs\.?|versus)\s+|[;?,]`)

func answerCompleteness(query string, selected []evidenceItem) float64 {
	present := map[domain.SourceKind]bool{}
	var corpus strings.Builder
	for _, item := range selected {
		present[item.source.Kind] = true
		corpus.WriteString(item.text)
		corpus.WriteByte(' ')
	}
	diversity := 0.0
	if present[domain.SourcePDF] {
		diversity += 0.5
	}
	if present[domain.SourceWeb] {
		diversity += 0.25
	}
	if present[domain.SourceAcademic] {
		diversity += 0.25
	}

	evidenceTokens := toTokenSet(corpus.String())
	var claims, covered int
	for _, part := range claimSeparators.Split(query, -1) {
		tokens := contentTokens(part)
		if len(tokens) == 0 {
			continue
		}
		claims++
		if tokenOverlap(tokens, evidenceTokens) >= 0.5 {
			covered++
		}
	}
	coverage := 0.0
	if claims > 0 {
		coverage = float64(covered) / float64(claims)
	}
	return clamp01(0.5*diversity + 0.5*coverage)
}

func extractiveAnswer(selected []evidenceItem) string {
	var b strings.Builder
	b.WriteString("The answer could not be generated. The most relevant evidence found:\n")
	for i, item := range selected {
		if i >= fallbackItems {
			break
		}
		fmt.Fprintf(&b, "\n[%d] (%s, %s) %s", i+1, item.source.Kind, item.source.Locator, truncateRunes(strings.TrimSpace(item.text), 400))
	}
	return b.String()
}

func paperURL(p domain.Paper) string {
	if p.URL != "" {
		return p.URL
	}
	ns, value := domain.SplitPaperID(p.ID)
	switch ns {
	case domain.IDNamespaceDOI:
		return "https://doi.org/" + value
	case domain.IDNamespaceArXiv:
		return "https://arxiv.org/abs/" + value
	case domain.IDNamespacePubMed:
		return "https://pubmed.ncbi.nlm.nih.gov/" + value + "/"
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
