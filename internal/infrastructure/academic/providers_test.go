package academic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/infrastructure/resilience"
)

func withBase(t *testing.T, base *string, url string) {
	t.Helper()
	old := *base
	*base = url
	t.Cleanup(func() { *base = old })
}

func TestSemanticScholarFetchMapsGraph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/DOI:10.1/abc" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-api-key") != "secret" {
			http.Error(w, "missing key", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{
			"paperId":"s2p","title":"Attention","abstract":"We propose.","year":2017,"citationCount":900,
			"externalIds":{"DOI":"10.1/ABC","ArXiv":"1706.03762"},
			"authors":[{"name":"A. Vaswani"}],
			"references":[{"paperId":"r1","externalIds":{"DOI":"10.2/ref"}},{"paperId":"r2","externalIds":{}}],
			"citations":[{"paperId":"c1","externalIds":{"ArXiv":"2001.1"}}]
		}`))
	}))
	defer server.Close()
	withBase(t, &semanticScholarBase, server.URL)

	p := NewSemanticScholar(Options{APIKey: "secret"})
	paper, err := p.FetchPaper(context.Background(), "doi:10.1/abc")
	if err != nil {
		t.Fatalf("FetchPaper() error = %v", err)
	}
	if paper.ID != "doi:10.1/abc" || paper.Provider != "semantic_scholar" || paper.CitationCount != 900 {
		t.Fatalf("unexpected paper: %+v", paper)
	}
	if strings.Join(paper.References, ",") != "doi:10.2/ref,s2:r2" {
		t.Fatalf("unexpected references: %v", paper.References)
	}
	if strings.Join(paper.CitedBy, ",") != "arxiv:2001.1" {
		t.Fatalf("unexpected cited_by: %v", paper.CitedBy)
	}
	if strings.Join(paper.Aliases, ",") != "doi:10.1/abc,arxiv:1706.03762,s2:s2p" {
		t.Fatalf("unexpected aliases: %v", paper.Aliases)
	}
}

func TestSemanticScholarRateLimitIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	withBase(t, &semanticScholarBase, server.URL)

	_, err := NewSemanticScholar(Options{}).FetchPaper(context.Background(), "s2:x")
	if !domain.IsKind(err, domain.ErrProviderRateLimited) {
		t.Fatalf("expected ErrProviderRateLimited, got %v", err)
	}
}

func TestProviderRetriesServerErrorsThroughExecutor(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"paperId":"x","title":"Recovered"}`))
	}))
	defer server.Close()
	withBase(t, &semanticScholarBase, server.URL)

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	paper, err := NewSemanticScholar(Options{Executor: executor}).FetchPaper(context.Background(), "s2:x")
	if err != nil {
		t.Fatalf("FetchPaper() error = %v", err)
	}
	if paper.Title != "Recovered" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected recovered paper after 2 calls, got %+v after %d", paper, calls)
	}
}

func TestProviderTimeoutIsFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	withBase(t, &openAlexBase, server.URL)

	_, err := NewOpenAlex(Options{Timeout: 20 * time.Millisecond}).FetchPaper(context.Background(), "openalex:W1")
	if !domain.IsKind(err, domain.ErrFetchTimeout) {
		t.Fatalf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestOpenAlexFetchReconstructsAbstract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/W123" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"id":"https://openalex.org/W123","doi":"https://doi.org/10.5/X","display_name":"Graphs",
			"publication_year":2020,"cited_by_count":42,
			"abstract_inverted_index":{"graphs":[1],"We":[0],"study":[2]},
			"referenced_works":["https://openalex.org/W9","https://openalex.org/W8"],
			"ids":{"pmid":"https://pubmed.ncbi.nlm.nih.gov/777"},
			"authorships":[{"author":{"display_name":"B. Author"}}],
			"primary_location":{"landing_page_url":"https://example.org/w123","source":{"display_name":"Journal"}}
		}`))
	}))
	defer server.Close()
	withBase(t, &openAlexBase, server.URL)

	paper, err := NewOpenAlex(Options{}).FetchPaper(context.Background(), "openalex:W123")
	if err != nil {
		t.Fatalf("FetchPaper() error = %v", err)
	}
	if paper.Abstract != "We graphs study" || paper.Title != "Graphs" || paper.Venue != "Journal" {
		t.Fatalf("unexpected paper: %+v", paper)
	}
	if strings.Join(paper.References, ",") != "openalex:W9,openalex:W8" {
		t.Fatalf("unexpected references: %v", paper.References)
	}
	if strings.Join(paper.Aliases, ",") != "doi:10.5/x,pmid:777,openalex:W123" {
		t.Fatalf("unexpected aliases: %v", paper.Aliases)
	}
}

func TestOpenAlexMissingIsPaperNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	withBase(t, &openAlexBase, server.URL)

	_, err := NewOpenAlex(Options{}).FetchPaper(context.Background(), "doi:10.1/missing")
	if !domain.IsKind(err, domain.ErrPaperNotFound) {
		t.Fatalf("expected ErrPaperNotFound, got %v", err)
	}
}

func TestPubMedFetchCombinesSummaryAndLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esummary.fcgi":
			_, _ = w.Write([]byte(`{"result":{"uids":["111"],"111":{
				"uid":"111","title":"Protein folding.","pubdate":"2019 Mar","source":"Nature",
				"authors":[{"name":"Smith J"}],"articleids":[{"idtype":"doi","value":"10.9/PF"}]}}}`))
		case "/elink.fcgi":
			name := r.URL.Query().Get("linkname")
			links := `["222","333"]`
			if name == "pubmed_pubmed_citedin" {
				links = `["444"]`
			}
			_, _ = w.Write([]byte(`{"linksets":[{"linksetdbs":[{"linkname":"` + name + `","links":` + links + `}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	withBase(t, &pubMedBase, server.URL)

	p := NewPubMed(Options{})
	if !p.Supports("pmid:111") || p.Supports("doi:10.9/pf") {
		t.Fatalf("unexpected Supports result")
	}
	paper, err := p.FetchPaper(context.Background(), "pmid:111")
	if err != nil {
		t.Fatalf("FetchPaper() error = %v", err)
	}
	if paper.Title != "Protein folding" || paper.Year != 2019 || paper.CitationCount != 1 {
		t.Fatalf("unexpected paper: %+v", paper)
	}
	if strings.Join(paper.References, ",") != "pmid:222,pmid:333" {
		t.Fatalf("unexpected references: %v", paper.References)
	}
	if strings.Join(paper.Aliases, ",") != "pmid:111,doi:10.9/pf" {
		t.Fatalf("unexpected aliases: %v", paper.Aliases)
	}
}

func TestCOREFetchByDOIUsesSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/works" || !strings.Contains(r.URL.Query().Get("q"), "10.7/core") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":98765,"title":"Open paper","doi":"10.7/core","yearPublished":2021,
			"authors":[{"name":"C. Writer"}],"downloadUrl":"https://core.ac.uk/download/98765.pdf"}]}`))
	}))
	defer server.Close()
	withBase(t, &coreBase, server.URL)

	paper, err := NewCORE(Options{APIKey: "k"}).FetchPaper(context.Background(), "doi:10.7/core")
	if err != nil {
		t.Fatalf("FetchPaper() error = %v", err)
	}
	if paper.Title != "Open paper" || len(paper.References) != 0 {
		t.Fatalf("unexpected paper: %+v", paper)
	}
	if strings.Join(paper.Aliases, ",") != "doi:10.7/core,core:98765" {
		t.Fatalf("unexpected aliases: %v", paper.Aliases)
	}
}

func TestSupportsByNamespace(t *testing.T) {
	s2 := NewSemanticScholar(Options{})
	oa := NewOpenAlex(Options{})
	core := NewCORE(Options{})
	cases := []struct {
		id           string
		s2, oa, core bool
	}{
		{"doi:10.1/x", true, true, true},
		{"arxiv:1706.03762", true, false, false},
		{"openalex:W1", false, true, false},
		{"core:1", false, false, true},
		{"unknown", false, false, false},
	}
	for _, tc := range cases {
		if s2.Supports(tc.id) != tc.s2 || oa.Supports(tc.id) != tc.oa || core.Supports(tc.id) != tc.core {
			t.Fatalf("unexpected Supports result for %s", tc.id)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}
