package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

const (
	stageWebResearch = "web_research"

	webContentLimit = 5000
	webMinContent   = 100
	webSnippetLimit = 200
	webHashPrefix   = 500
)

type WebResearchOptions struct {
	MaxFetch             int
	MaxSources           int
	ReliabilityThreshold float64
	FetchTimeout         time.Duration
	Parallel             int
	ResultsPerProvider   int
	TranslateQuery       bool
	TranslateLanguage    string
	TranslateTimeout     time.Duration
}

func (o WebResearchOptions) normalize() WebResearchOptions {
	if o.MaxFetch <= 0 {
		o.MaxFetch = 8
	}
	if o.MaxSources <= 0 {
		o.MaxSources = 10
	}
	if o.ReliabilityThreshold < 0 || o.ReliabilityThreshold > 1 {
		o.ReliabilityThreshold = 0.6
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.Parallel <= 0 {
		o.Parallel = 4
	}
	if o.ResultsPerProvider <= 0 {
		o.ResultsPerProvider = 5
	}
	if o.TranslateLanguage == "" {
		o.TranslateLanguage = "English"
	}
	if o.TranslateTimeout <= 0 {
		o.TranslateTimeout = 10 * time.Second
	}
	return o
}

type WebResearchResult struct {
	Query          string
	Sources        []domain.WebPage
	ProviderErrors int
	FetchErrors    int
	Dropped        int
}

// WebResearchEngine searches the web, fetches candidate pages and keeps the
// reliable ones. Provider and fetch failures only shrink the result.
type WebResearchEngine struct {
	providers []ports.WebSearchProvider
	fetcher   ports.PageFetcher
	generator ports.TextGenerator
	opts      WebResearchOptions
	now       func() time.Time
}

func NewWebResearchEngine(providers []ports.WebSearchProvider, fetcher ports.PageFetcher, generator ports.TextGenerator, opts WebResearchOptions) *WebResearchEngine {
	return &WebResearchEngine{
		providers: providers,
		fetcher:   fetcher,
		generator: generator,
		opts:      opts.normalize(),
		now:       time.Now,
	}
}

func (e *WebResearchEngine) Research(ctx context.Context, query string, events domain.ProgressSink) (WebResearchResult, error) {
	events.Emit(ctx, domain.ProgressEvent{Stage: stageWebResearch, Kind: domain.ProgressStageStarted})
	query = e.searchQuery(ctx, strings.TrimSpace(query))
	result := WebResearchResult{Query: query}

	hits, providerErrors := e.search(ctx, query)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.ProviderErrors = providerErrors
	hits = dedupHits(hits)
	if len(hits) > e.opts.MaxFetch {
		hits = hits[:e.opts.MaxFetch]
	}

	pages, fetchErrors := e.fetchAll(ctx, hits)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	result.FetchErrors = fetchErrors

	seen := make(map[string]struct{}, len(pages))
	accepted := make([]domain.WebPage, 0, len(pages))
	now := e.now()
	for _, page := range pages {
		if page == nil {
			continue
		}
		content := truncateRunes(strings.TrimSpace(page.Content), webContentLimit)
		if len([]rune(content)) < webMinContent {
			result.Dropped++
			continue
		}
		hash := contentHash(content)
		if _, dup := seen[hash]; dup {
			result.Dropped++
			continue
		}
		seen[hash] = struct{}{}

		sourceType, tier := classifySource(page.URL, content)
		page.Content = content
		page.SourceType = sourceType
		page.Reliability = reliabilityScore(tier, len([]rune(content)), recencyScore(page.PublishedAt, now))
		if page.Snippet == "" {
			page.Snippet = content
		}
		page.Snippet = truncateRunes(page.Snippet, webSnippetLimit)

		if page.Reliability < e.opts.ReliabilityThreshold {
			result.Dropped++
			events.Emit(ctx, domain.ProgressEvent{Stage: stageWebResearch, Kind: domain.ProgressSourceDropped, Message: page.URL})
			continue
		}
		accepted = append(accepted, *page)
		events.Emit(ctx, domain.ProgressEvent{Stage: stageWebResearch, Kind: domain.ProgressSourceAccepted, Message: page.URL})
	}

	sort.SliceStable(accepted, func(i, j int) bool { return accepted[i].Reliability > accepted[j].Reliability })
	if len(accepted) > e.opts.MaxSources {
		accepted = accepted[:e.opts.MaxSources]
	}
	result.Sources = accepted

	events.Emit(ctx, domain.ProgressEvent{Stage: stageWebResearch, Kind: domain.ProgressStageFinished, Count: len(accepted)})
	slog.Info("web_research_done",
		"sources", len(accepted),
		"provider_errors", result.ProviderErrors,
		"fetch_errors", result.FetchErrors,
		"dropped", result.Dropped,
	)
	return result, nil
}

// searchQuery optionally translates the query; any failure keeps the original.
func (e *WebResearchEngine) searchQuery(ctx context.Context, query string) string {
	if !e.opts.TranslateQuery || e.generator == nil || query == "" {
		return query
	}
	tctx, cancel := context.WithTimeout(ctx, e.opts.TranslateTimeout)
	defer cancel()
	translated, err := e.generator.GenerateFromPrompt(tctx, buildTranslationPrompt(query, e.opts.TranslateLanguage))
	translated = strings.TrimSpace(strings.Trim(strings.TrimSpace(translated), `"`))
	if err != nil || translated == "" {
		slog.Warn("query_translation_skipped", "error", err)
		return query
	}
	return translated
}

func (e *WebResearchEngine) search(ctx context.Context, query string) ([]domain.WebHit, int) {
	results := make([][]domain.WebHit, len(e.providers))
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(e.opts.Parallel)
	for i, provider := range e.providers {
		g.Go(func() error {
			hits, err := provider.Search(ctx, query, e.opts.ResultsPerProvider)
			if err != nil {
				failures.Add(1)
				slog.Warn("web_search_failed", "provider", provider.Name(), "error", err)
				return nil
			}
			for j := range hits {
				if hits[j].Provider == "" {
					hits[j].Provider = provider.Name()
				}
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.WebHit
	for _, hits := range results {
		out = append(out, hits...)
	}
	return out, int(failures.Load())
}

func (e *WebResearchEngine) fetchAll(ctx context.Context, hits []domain.WebHit) ([]*domain.WebPage, int) {
	pages := make([]*domain.WebPage, len(hits))
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(e.opts.Parallel)
	for i, hit := range hits {
		if strings.TrimSpace(hit.Content) != "" || e.fetcher == nil {
			pages[i] = pageFromHit(hit)
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
			defer cancel()
			page, err := e.fetcher.Fetch(fctx, hit.URL)
			if err != nil {
				failures.Add(1)
				slog.Warn("web_fetch_failed", "url", hit.URL, "provider", hit.Provider, "error", err)
				return nil
			}
			if page.Title == "" {
				page.Title = hit.Title
			}
			if page.Snippet == "" {
				page.Snippet = hit.Snippet
			}
			if page.PublishedAt.IsZero() {
				page.PublishedAt = hit.PublishedAt
			}
			page.Provider = hit.Provider
			pages[i] = page
			return nil
		})
	}
	_ = g.Wait()
	return pages, int(failures.Load())
}

func pageFromHit(hit domain.WebHit) *domain.WebPage {
	if strings.TrimSpace(hit.Content) == "" {
		return nil
	}
	return &domain.WebPage{
		URL:         hit.URL,
		Title:       hit.Title,
		Content:     hit.Content,
		Snippet:     hit.Snippet,
		Provider:    hit.Provider,
		PublishedAt: hit.PublishedAt,
	}
}

func dedupHits(hits []domain.WebHit) []domain.WebHit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		key := normalizeURL(h.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, h)
	}
	return out
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.Host = strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	u.Scheme = "https"
	return strings.TrimRight(u.String(), "/")
}

func contentHash(content string) string {
	sum := md5.Sum([]byte(truncateRunes(content, webHashPrefix)))
	return hex.EncodeToString(sum[:])
}
