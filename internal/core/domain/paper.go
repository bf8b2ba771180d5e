package domain

import (
	"strings"
	"time"
)

// Canonical paper id namespaces. Ids travel through the crawler as
// "<namespace>:<value>", e.g. "doi:10.1000/xyz" or "s2:abc123".
const (
	IDNamespaceDOI      = "doi"
	IDNamespaceArXiv    = "arxiv"
	IDNamespaceS2       = "s2"
	IDNamespaceOpenAlex = "openalex"
	IDNamespacePubMed   = "pmid"
	IDNamespaceCORE     = "core"
)

type PaperKey struct {
	Provider string `json:"provider"`
	ID       string `json:"paper_id"`
}

func (k PaperKey) String() string {
	return k.Provider + "/" + k.ID
}

type Paper struct {
	Provider      string    `json:"provider" yaml:"provider"`
	ID            string    `json:"paper_id" yaml:"paper_id"`
	Title         string    `json:"title" yaml:"title"`
	Abstract      string    `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Authors       []string  `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year          int       `json:"year,omitempty" yaml:"year,omitempty"`
	CitationCount int       `json:"citation_count" yaml:"citation_count"`
	References    []string  `json:"references,omitempty" yaml:"references,omitempty"`
	CitedBy       []string  `json:"cited_by,omitempty" yaml:"cited_by,omitempty"`
	URL           string    `json:"url,omitempty" yaml:"url,omitempty"`
	Venue         string    `json:"venue,omitempty" yaml:"venue,omitempty"`
	Aliases       []string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	FetchedAt     time.Time `json:"fetched_at" yaml:"fetched_at"`
}

func (p Paper) Key() PaperKey {
	return PaperKey{Provider: p.Provider, ID: p.ID}
}

// SplitPaperID returns the namespace and value of a canonical id. Ids without
// a known namespace return an empty namespace.
func SplitPaperID(id string) (string, string) {
	id = strings.TrimSpace(id)
	idx := strings.Index(id, ":")
	if idx <= 0 {
		return "", id
	}
	ns := strings.ToLower(id[:idx])
	switch ns {
	case IDNamespaceDOI, IDNamespaceArXiv, IDNamespaceS2, IDNamespaceOpenAlex, IDNamespacePubMed, IDNamespaceCORE:
		return ns, id[idx+1:]
	default:
		return "", id
	}
}

// CanonicalPaperID normalizes the namespace casing and DOI casing.
func CanonicalPaperID(namespace, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	if namespace == IDNamespaceDOI {
		value = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(value, "https://doi.org/"), "http://doi.org/"))
	}
	return namespace + ":" + value
}

type CitationEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Kind is "references" or "cited_by".
	Kind string `json:"kind"`
}

type CrawlStats struct {
	PapersFetched   int `json:"papers_fetched"`
	CacheHits       int `json:"cache_hits"`
	NetworkFetches  int `json:"network_fetches"`
	SkippedNodes    int `json:"skipped_nodes"`
	DepthReached    int `json:"depth_reached"`
	ProviderErrors  int `json:"provider_errors"`
	RateLimitedHits int `json:"rate_limited_hits"`
}

type RankedPaper struct {
	Paper     Paper   `json:"paper"`
	Relevance float64 `json:"relevance"`
	Depth     int     `json:"depth"`
}

// CitationSubgraph is the explored part of the citation graph for one crawl.
type CitationSubgraph struct {
	Nodes   map[string]Paper `json:"nodes"`
	Depths  map[string]int   `json:"depths"`
	Edges   []CitationEdge   `json:"edges"`
	Visited []string         `json:"visited"`
	Ranked  []RankedPaper    `json:"ranked"`
	Stats   CrawlStats       `json:"stats"`
}

type CacheStats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Expired    int            `json:"expired"`
	ByProvider map[string]int `json:"by_provider"`
}
