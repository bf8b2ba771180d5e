package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

const (
	stageCrawl = "citation_crawl"

	edgeReferences = "references"
	edgeCitedBy    = "cited_by"
)

type CrawlOptions struct {
	MaxDepth       int
	MaxPapers      int
	Parallel       int
	SeedCount      int
	IncludeCitedBy bool
	MaxEvidence    int
}

func (o CrawlOptions) normalize() CrawlOptions {
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.MaxPapers <= 0 {
		o.MaxPapers = 30
	}
	if o.Parallel <= 0 {
		o.Parallel = 3
	}
	if o.SeedCount <= 0 {
		o.SeedCount = 3
	}
	if o.MaxEvidence <= 0 {
		o.MaxEvidence = 5
	}
	return o
}

type CrawlRequest struct {
	Query string
	// Seeds are canonical paper ids. When empty the query is searched on the
	// providers to find seeds.
	Seeds []string
}

// CitationGraphCrawler explores the citation graph breadth-first from a set
// of seed papers, reading through the persistent cache before any provider.
type CitationGraphCrawler struct {
	providers []ports.PaperProvider
	cache     ports.PaperCache
	sink      ports.GraphSink
	opts      CrawlOptions
	now       func() time.Time
}

// NewCitationGraphCrawler takes providers in priority order.
func NewCitationGraphCrawler(providers []ports.PaperProvider, cache ports.PaperCache, sink ports.GraphSink, opts CrawlOptions) *CitationGraphCrawler {
	return &CitationGraphCrawler{
		providers: providers,
		cache:     cache,
		sink:      sink,
		opts:      opts.normalize(),
		now:       time.Now,
	}
}

type nodeResult struct {
	paper       *domain.Paper
	cached      bool
	network     int
	errors      int
	rateLimited int
}

// Crawl returns the explored subgraph. Each paper is fetched at most once and
// the crawl stops at MaxDepth, after MaxPapers visited ids (fetched or
// skipped) or when the frontier empties.
func (c *CitationGraphCrawler) Crawl(ctx context.Context, req CrawlRequest, events domain.ProgressSink) (domain.CitationSubgraph, error) {
	graph := domain.CitationSubgraph{
		Nodes:  make(map[string]domain.Paper),
		Depths: make(map[string]int),
	}
	events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressStageStarted})

	seeds := canonicalIDs(req.Seeds)
	if len(seeds) == 0 && strings.TrimSpace(req.Query) != "" {
		seeds = c.searchSeeds(ctx, req.Query)
	}
	if err := ctx.Err(); err != nil {
		return graph, err
	}

	visited := make(map[string]struct{})
	// aliasOf resolves every known id of a fetched paper to its node id.
	aliasOf := make(map[string]string)
	frontier := seeds

	for depth := 0; depth <= c.opts.MaxDepth && len(frontier) > 0; depth++ {
		// Skipped nodes still cost fetches, so the bound counts visits.
		budget := c.opts.MaxPapers - len(graph.Visited)
		if budget <= 0 {
			break
		}
		layer := make([]string, 0, len(frontier))
		for _, id := range frontier {
			if len(layer) >= budget {
				break
			}
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			layer = append(layer, id)
		}
		if len(layer) == 0 {
			break
		}
		graph.Visited = append(graph.Visited, layer...)
		graph.Stats.DepthReached = depth
		events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressCrawlLayer, Depth: depth, Count: len(layer)})

		results := make([]nodeResult, len(layer))
		var g errgroup.Group
		g.SetLimit(c.opts.Parallel)
		for i, id := range layer {
			g.Go(func() error {
				results[i] = c.fetchNode(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return graph, err
		}

		var next []string
		for i, id := range layer {
			res := results[i]
			graph.Stats.NetworkFetches += res.network
			graph.Stats.ProviderErrors += res.errors
			graph.Stats.RateLimitedHits += res.rateLimited
			if res.paper == nil {
				graph.Stats.SkippedNodes++
				slog.Warn("crawl_node_skipped", "paper_id", id, "depth", depth)
				events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressPaperSkipped, Depth: depth, PaperID: id})
				continue
			}
			if owner, dup := resolveAlias(aliasOf, res.paper.Aliases); dup {
				// Same paper reached under another id in this layer.
				aliasOf[id] = owner
				continue
			}

			paper := *res.paper
			graph.Nodes[id] = paper
			graph.Depths[id] = depth
			aliasOf[id] = id
			for _, alias := range canonicalIDs(paper.Aliases) {
				aliasOf[alias] = id
				visited[alias] = struct{}{}
			}
			if res.cached {
				graph.Stats.CacheHits++
				events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressPaperCached, Depth: depth, PaperID: id})
			} else {
				graph.Stats.PapersFetched++
				events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressPaperFetched, Depth: depth, PaperID: id})
			}

			if depth >= c.opts.MaxDepth {
				continue
			}
			for _, ref := range canonicalIDs(paper.References) {
				graph.Edges = append(graph.Edges, domain.CitationEdge{From: id, To: ref, Kind: edgeReferences})
				if _, seen := visited[ref]; !seen {
					next = append(next, ref)
				}
			}
			if c.opts.IncludeCitedBy {
				for _, citing := range canonicalIDs(paper.CitedBy) {
					graph.Edges = append(graph.Edges, domain.CitationEdge{From: id, To: citing, Kind: edgeCitedBy})
					if _, seen := visited[citing]; !seen {
						next = append(next, citing)
					}
				}
			}
		}
		frontier = next
	}

	graph.Edges = resolveEdges(graph.Edges, aliasOf, graph.Nodes)
	graph.Ranked = rankPapers(graph, req.Query, c.opts.MaxEvidence, c.now())

	if c.sink != nil && len(graph.Nodes) > 0 {
		if err := c.sink.ExportSubgraph(ctx, graph); err != nil {
			slog.Warn("graph_export_failed", "error", err)
		}
	}
	events.Emit(ctx, domain.ProgressEvent{Stage: stageCrawl, Kind: domain.ProgressStageFinished, Count: len(graph.Nodes)})
	slog.Info("crawl_done",
		"papers", len(graph.Nodes),
		"cache_hits", graph.Stats.CacheHits,
		"network_fetches", graph.Stats.NetworkFetches,
		"skipped", graph.Stats.SkippedNodes,
		"depth", graph.Stats.DepthReached,
	)
	return graph, nil
}

// fetchNode reads every capable provider's cache entry before making any
// network call, then falls through providers in priority order.
func (c *CitationGraphCrawler) fetchNode(ctx context.Context, id string) nodeResult {
	var capable []ports.PaperProvider
	for _, p := range c.providers {
		if p.Supports(id) {
			capable = append(capable, p)
		}
	}
	if len(capable) == 0 {
		return nodeResult{}
	}

	if c.cache != nil {
		for _, p := range capable {
			paper, err := c.cache.Get(ctx, domain.PaperKey{Provider: p.Name(), ID: id})
			if err == nil && paper != nil {
				return nodeResult{paper: paper, cached: true}
			}
			if domain.IsKind(err, domain.ErrCacheUnreadable) {
				slog.Warn("paper_cache_unreadable", "provider", p.Name(), "paper_id", id, "error", err)
			}
		}
	}

	var res nodeResult
	for _, p := range capable {
		if ctx.Err() != nil {
			return res
		}
		res.network++
		paper, err := p.FetchPaper(ctx, id)
		if err != nil {
			switch {
			case domain.IsKind(err, domain.ErrProviderRateLimited):
				res.rateLimited++
			case errors.Is(err, domain.ErrPaperNotFound):
			default:
				res.errors++
			}
			slog.Debug("paper_fetch_failed", "provider", p.Name(), "paper_id", id, "error", err)
			continue
		}
		paper.Provider = p.Name()
		paper.ID = id
		if paper.FetchedAt.IsZero() {
			paper.FetchedAt = c.now().UTC()
		}
		if c.cache != nil {
			if err := c.cache.Put(ctx, *paper); err != nil {
				slog.Warn("paper_cache_write_failed", "provider", p.Name(), "paper_id", id, "error", err)
			}
		}
		res.paper = paper
		return res
	}
	return res
}

func (c *CitationGraphCrawler) searchSeeds(ctx context.Context, query string) []string {
	for _, p := range c.providers {
		papers, err := p.SearchPapers(ctx, query, c.opts.SeedCount)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("seed_search_failed", "provider", p.Name(), "error", err)
			continue
		}
		ids := make([]string, 0, len(papers))
		for _, paper := range papers {
			ids = append(ids, paper.ID)
		}
		ids = canonicalIDs(ids)
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}

func canonicalIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		ns, value := domain.SplitPaperID(raw)
		if ns == "" {
			continue
		}
		id := domain.CanonicalPaperID(ns, value)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func resolveAlias(aliasOf map[string]string, aliases []string) (string, bool) {
	for _, alias := range canonicalIDs(aliases) {
		if owner, ok := aliasOf[alias]; ok {
			return owner, true
		}
	}
	return "", false
}

// resolveEdges maps alias targets onto node ids and keeps edges between
// explored nodes only.
func resolveEdges(edges []domain.CitationEdge, aliasOf map[string]string, nodes map[string]domain.Paper) []domain.CitationEdge {
	seen := make(map[string]struct{}, len(edges))
	out := make([]domain.CitationEdge, 0, len(edges))
	for _, e := range edges {
		if owner, ok := aliasOf[e.To]; ok {
			e.To = owner
		}
		if _, ok := nodes[e.To]; !ok || e.To == e.From {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", e.From, e.To, e.Kind)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
