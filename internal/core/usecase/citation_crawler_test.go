package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type paperProviderFake struct {
	name       string
	namespaces []string
	papers     map[string]domain.Paper
	errs       map[string]error
	search     []domain.Paper
	searchErr  error

	mu      sync.Mutex
	fetches map[string]int
}

func newPaperProviderFake(name string, namespaces ...string) *paperProviderFake {
	return &paperProviderFake{
		name:       name,
		namespaces: namespaces,
		papers:     make(map[string]domain.Paper),
		errs:       make(map[string]error),
		fetches:    make(map[string]int),
	}
}

func (f *paperProviderFake) Name() string { return f.name }

func (f *paperProviderFake) Supports(id string) bool {
	ns, _ := domain.SplitPaperID(id)
	for _, n := range f.namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

func (f *paperProviderFake) FetchPaper(_ context.Context, id string) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	p, ok := f.papers[id]
	if !ok {
		return nil, fmt.Errorf("%s fetch %s: %w", f.name, id, domain.ErrPaperNotFound)
	}
	return &p, nil
}

func (f *paperProviderFake) SearchPapers(_ context.Context, _ string, limit int) ([]domain.Paper, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.search) > limit {
		return f.search[:limit], nil
	}
	return f.search, nil
}

func (f *paperProviderFake) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

type paperCacheFake struct {
	mu      sync.Mutex
	records map[domain.PaperKey]domain.Paper
	getErr  error
	puts    int
}

func newPaperCacheFake() *paperCacheFake {
	return &paperCacheFake{records: make(map[domain.PaperKey]domain.Paper)}
}

func (f *paperCacheFake) Get(_ context.Context, key domain.PaperKey) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.records[key]
	if !ok {
		return nil, domain.ErrPaperNotFound
	}
	return &p, nil
}

func (f *paperCacheFake) Put(_ context.Context, p domain.Paper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.records[p.Key()] = p
	return nil
}

func (f *paperCacheFake) Stats(context.Context) (domain.CacheStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.CacheStats{Total: len(f.records), Active: len(f.records)}, nil
}

func (f *paperCacheFake) PurgeExpired(context.Context) (int, error) { return 0, nil }

type graphSinkFake struct {
	graphs []domain.CitationSubgraph
	err    error
}

func (f *graphSinkFake) ExportSubgraph(_ context.Context, g domain.CitationSubgraph) error {
	f.graphs = append(f.graphs, g)
	return f.err
}

func cyclicProvider() *paperProviderFake {
	p := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	p.papers["doi:p"] = domain.Paper{Title: "Attention in transformers", Year: 2017, CitationCount: 500, References: []string{"doi:a", "doi:b"}}
	p.papers["doi:a"] = domain.Paper{Title: "Recurrent attention", Year: 2015, References: []string{"doi:p"}}
	p.papers["doi:b"] = domain.Paper{Title: "Convolutional models", Year: 2016}
	return p
}

func providersOf(ps ...*paperProviderFake) []ports.PaperProvider {
	out := make([]ports.PaperProvider, 0, len(ps))
	for _, p := range ps {
		out = append(out, p)
	}
	return out
}

func TestCrawlHandlesCycleAndVisitsEachPaperOnce(t *testing.T) {
	defer verifyNoLeaks(t)

	provider := cyclicProvider()
	crawler := NewCitationGraphCrawler(providersOf(provider), newPaperCacheFake(), nil, CrawlOptions{MaxDepth: 2, MaxPapers: 30})

	graph, err := crawler.Crawl(context.Background(), CrawlRequest{Seeds: []string{"DOI:P"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if diff := cmp.Diff([]string{"doi:p", "doi:a", "doi:b"}, graph.Visited); diff != "" {
		t.Fatalf("visited mismatch (-want +got):\n%s", diff)
	}
	for id, n := range provider.fetches {
		if n != 1 {
			t.Fatalf("expected %s fetched once, got %d", id, n)
		}
	}
	if graph.Depths["doi:a"] != 1 || graph.Stats.DepthReached != 1 {
		t.Fatalf("unexpected depths: %v reached=%d", graph.Depths, graph.Stats.DepthReached)
	}
	wantEdges := []domain.CitationEdge{
		{From: "doi:p", To: "doi:a", Kind: edgeReferences},
		{From: "doi:p", To: "doi:b", Kind: edgeReferences},
		{From: "doi:a", To: "doi:p", Kind: edgeReferences},
	}
	if diff := cmp.Diff(wantEdges, graph.Edges); diff != "" {
		t.Fatalf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestCrawlRespectsDepthAndPaperBounds(t *testing.T) {
	provider := newPaperProviderFake("openalex", domain.IDNamespaceOpenAlex)
	// Chain w0 -> w1 -> ... -> w9, each also referencing a leaf.
	for i := 0; i < 10; i++ {
		id := "openalex:w" + string(rune('0'+i))
		refs := []string{"openalex:w" + string(rune('0'+i+1)), "openalex:leaf" + string(rune('0'+i))}
		provider.papers[id] = domain.Paper{Title: id, References: refs}
		provider.papers["openalex:leaf"+string(rune('0'+i))] = domain.Paper{Title: "leaf"}
	}

	graph, err := NewCitationGraphCrawler(providersOf(provider), nil, nil, CrawlOptions{MaxDepth: 2, MaxPapers: 100}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"openalex:w0"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	for id, depth := range graph.Depths {
		if depth > 2 {
			t.Fatalf("node %s beyond max depth: %d", id, depth)
		}
	}
	if len(graph.Nodes) != 5 {
		t.Fatalf("expected 1+2+2 nodes within depth 2, got %d", len(graph.Nodes))
	}

	graph, err = NewCitationGraphCrawler(providersOf(provider), nil, nil, CrawlOptions{MaxDepth: 5, MaxPapers: 4}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"openalex:w0"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(graph.Nodes) > 4 || len(graph.Visited) > 4 {
		t.Fatalf("expected at most 4 papers, got %d nodes %d visited", len(graph.Nodes), len(graph.Visited))
	}
}

func TestCrawlCountsSkippedNodesAgainstPaperBound(t *testing.T) {
	provider := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	provider.papers["doi:p"] = domain.Paper{Title: "P", References: []string{"doi:a", "doi:gone", "doi:b", "doi:c"}}
	provider.papers["doi:a"] = domain.Paper{Title: "A"}
	provider.papers["doi:b"] = domain.Paper{Title: "B"}
	provider.papers["doi:c"] = domain.Paper{Title: "C"}
	provider.errs["doi:gone"] = errServiceDown

	graph, err := NewCitationGraphCrawler(providersOf(provider), nil, nil, CrawlOptions{MaxDepth: 2, MaxPapers: 3}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if diff := cmp.Diff([]string{"doi:p", "doi:a", "doi:gone"}, graph.Visited); diff != "" {
		t.Fatalf("visited mismatch (-want +got):\n%s", diff)
	}
	if provider.totalFetches() != 3 || graph.Stats.NetworkFetches != 3 {
		t.Fatalf("expected 3 network fetches, got provider=%d stats=%d", provider.totalFetches(), graph.Stats.NetworkFetches)
	}
	if len(graph.Nodes) != 2 || graph.Stats.SkippedNodes != 1 {
		t.Fatalf("expected 2 nodes and 1 skipped, got %d nodes %+v", len(graph.Nodes), graph.Stats)
	}
}

func TestCrawlCacheHitMakesNoNetworkCalls(t *testing.T) {
	provider := cyclicProvider()
	cache := newPaperCacheFake()
	crawler := NewCitationGraphCrawler(providersOf(provider), cache, nil, CrawlOptions{MaxDepth: 2})

	first, err := crawler.Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err != nil {
		t.Fatalf("first Crawl() error = %v", err)
	}
	if first.Stats.PapersFetched != 3 || cache.puts != 3 {
		t.Fatalf("expected 3 fetched and cached papers, got %d/%d", first.Stats.PapersFetched, cache.puts)
	}
	before := provider.totalFetches()

	second, err := crawler.Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err != nil {
		t.Fatalf("second Crawl() error = %v", err)
	}
	if provider.totalFetches() != before {
		t.Fatalf("expected zero network calls on cache hit, got %d", provider.totalFetches()-before)
	}
	if second.Stats.CacheHits != 3 || second.Stats.NetworkFetches != 0 {
		t.Fatalf("unexpected stats: %+v", second.Stats)
	}
	if diff := cmp.Diff(first.Visited, second.Visited); diff != "" {
		t.Fatalf("expected identical crawl from cache (-first +second):\n%s", diff)
	}
}

func TestCrawlFallsThroughProvidersOnRateLimit(t *testing.T) {
	limited := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	limited.errs["doi:x"] = fmt.Errorf("semantic_scholar fetch: %w", domain.ErrProviderRateLimited)
	backup := newPaperProviderFake("openalex", domain.IDNamespaceDOI)
	backup.papers["doi:x"] = domain.Paper{Title: "Recovered"}
	cache := newPaperCacheFake()

	graph, err := NewCitationGraphCrawler(providersOf(limited, backup), cache, nil, CrawlOptions{MaxDepth: 0}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:x"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	node, ok := graph.Nodes["doi:x"]
	if !ok || node.Provider != "openalex" {
		t.Fatalf("expected node from backup provider, got %+v", graph.Nodes)
	}
	if graph.Stats.RateLimitedHits != 1 || graph.Stats.NetworkFetches != 2 {
		t.Fatalf("unexpected stats: %+v", graph.Stats)
	}
	if _, ok := cache.records[domain.PaperKey{Provider: "openalex", ID: "doi:x"}]; !ok {
		t.Fatalf("expected fetched paper cached under its provider")
	}
}

func TestCrawlSkipsNodesAllProvidersFail(t *testing.T) {
	provider := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	provider.papers["doi:p"] = domain.Paper{Title: "P", References: []string{"doi:gone", "pmid:123"}}
	provider.errs["doi:gone"] = errServiceDown
	events := make(chan domain.ProgressEvent, 32)

	graph, err := NewCitationGraphCrawler(providersOf(provider), nil, nil, CrawlOptions{MaxDepth: 1}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, events)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if graph.Stats.SkippedNodes != 2 || graph.Stats.ProviderErrors != 1 {
		t.Fatalf("expected gone and unsupported pmid skipped, got %+v", graph.Stats)
	}
	close(events)
	skipped := 0
	for ev := range events {
		if ev.Kind == domain.ProgressPaperSkipped {
			skipped++
		}
	}
	if skipped != 2 {
		t.Fatalf("expected 2 skip events, got %d", skipped)
	}
}

func TestCrawlTreatsUnreadableCacheAsMiss(t *testing.T) {
	provider := cyclicProvider()
	cache := newPaperCacheFake()
	cache.getErr = domain.WrapError(domain.ErrCacheUnreadable, "cache get", errServiceDown)

	graph, err := NewCitationGraphCrawler(providersOf(provider), cache, nil, CrawlOptions{MaxDepth: 0}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if graph.Stats.PapersFetched != 1 {
		t.Fatalf("expected network fetch after unreadable cache, got %+v", graph.Stats)
	}
}

func TestCrawlAliasesPreventRefetch(t *testing.T) {
	provider := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI, domain.IDNamespaceArXiv)
	provider.papers["doi:p"] = domain.Paper{Title: "P", References: []string{"doi:a"}, Aliases: []string{"doi:p", "arxiv:1706.03762"}}
	provider.papers["doi:a"] = domain.Paper{Title: "A", References: []string{"arxiv:1706.03762"}}

	graph, err := NewCitationGraphCrawler(providersOf(provider), nil, nil, CrawlOptions{MaxDepth: 3}).
		Crawl(context.Background(), CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if provider.fetches["arxiv:1706.03762"] != 0 {
		t.Fatalf("expected alias not fetched")
	}
	last := graph.Edges[len(graph.Edges)-1]
	if last.From != "doi:a" || last.To != "doi:p" {
		t.Fatalf("expected alias edge resolved to node id, got %+v", last)
	}
}

func TestCrawlSeedsFromSearchAndExportsGraph(t *testing.T) {
	failing := newPaperProviderFake("semantic_scholar", domain.IDNamespaceDOI)
	failing.searchErr = errServiceDown
	provider := cyclicProvider()
	provider.name = "openalex"
	provider.search = []domain.Paper{{ID: "doi:p", Title: "Attention in transformers"}}
	sink := &graphSinkFake{}

	crawler := NewCitationGraphCrawler(providersOf(failing, provider), nil, sink, CrawlOptions{MaxDepth: 1, MaxEvidence: 2})
	crawler.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	graph, err := crawler.Crawl(context.Background(), CrawlRequest{Query: "attention transformers"}, nil)
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}
	if len(graph.Nodes) != 3 || len(sink.graphs) != 1 {
		t.Fatalf("expected 3 nodes exported once, got %d nodes %d exports", len(graph.Nodes), len(sink.graphs))
	}
	if len(graph.Ranked) != 2 || graph.Ranked[0].Paper.Title != "Attention in transformers" {
		t.Fatalf("expected most relevant paper first, got %+v", graph.Ranked)
	}
}

func TestCrawlReturnsErrorWhenCancelled(t *testing.T) {
	defer verifyNoLeaks(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCitationGraphCrawler(providersOf(cyclicProvider()), nil, nil, CrawlOptions{}).
		Crawl(ctx, CrawlRequest{Seeds: []string{"doi:p"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRankPapersPrefersProviderDiversity(t *testing.T) {
	graph := domain.CitationSubgraph{
		Nodes: map[string]domain.Paper{
			"doi:1": {Provider: "semantic_scholar", Title: "attention", CitationCount: 100, Year: 2025},
			"doi:2": {Provider: "semantic_scholar", Title: "attention", CitationCount: 90, Year: 2025},
			"doi:3": {Provider: "pubmed", Title: "unrelated", Year: 2001},
		},
		Visited: []string{"doi:1", "doi:2", "doi:3"},
	}
	ranked := rankPapers(graph, "attention", 2, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(ranked) != 2 || ranked[0].Paper.Title != "attention" || ranked[1].Paper.Provider != "pubmed" {
		t.Fatalf("expected one paper per provider first, got %+v", ranked)
	}
}

func TestExtractPaperIDs(t *testing.T) {
	text := `[1] Vaswani et al. arXiv:1706.03762v5.
[2] Smith. doi: 10.1000/ABC.123, PMID: 12345678.
[3] https://arxiv.org/abs/2001.00001 and again 10.1000/abc.123.`
	want := []string{"arxiv:1706.03762", "doi:10.1000/abc.123", "pmid:12345678", "arxiv:2001.00001"}
	if diff := cmp.Diff(want, ExtractPaperIDs(text)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}
