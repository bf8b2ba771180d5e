package academic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// pubMedBase is the NCBI E-utilities root. Declared as a var so tests can
// substitute an httptest server.
var pubMedBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// PubMed resolves PMIDs through esummary and follows reference links
// through elink. Abstracts are not part of esummary and stay empty.
type PubMed struct {
	client
}

func NewPubMed(opts Options) *PubMed {
	return &PubMed{client: client{name: "pubmed", opts: opts.normalize()}}
}

func (p *PubMed) Name() string { return p.name }

func (p *PubMed) Supports(paperID string) bool {
	ns, _ := domain.SplitPaperID(paperID)
	return ns == domain.IDNamespacePubMed
}

func (p *PubMed) FetchPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	ns, pmid := domain.SplitPaperID(paperID)
	if ns != domain.IDNamespacePubMed || pmid == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "pubmed id", fmt.Errorf("unsupported id %q", paperID))
	}
	papers, err := p.summaries(ctx, []string{pmid})
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, domain.WrapError(domain.ErrPaperNotFound, "pubmed fetch", fmt.Errorf("pmid=%s", pmid))
	}
	paper := papers[0]

	refs, err := p.links(ctx, pmid, "pubmed_pubmed_refs")
	if err != nil {
		return nil, err
	}
	paper.References = refs
	citedBy, err := p.links(ctx, pmid, "pubmed_pubmed_citedin")
	if err != nil {
		return nil, err
	}
	paper.CitedBy = citedBy
	paper.CitationCount = len(citedBy)
	paper.ID = paperID
	return &paper, nil
}

func (p *PubMed) SearchPapers(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "pubmed search", fmt.Errorf("empty query"))
	}
	params := p.params(url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {strconv.Itoa(clampLimit(limit, 100))},
		"retmode": {"json"},
	})
	var resp struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := p.getJSON(ctx, "search", pubMedBase+"/esearch.fcgi?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.ESearchResult.IDList) == 0 {
		return nil, nil
	}
	return p.summaries(ctx, resp.ESearchResult.IDList)
}

func (p *PubMed) params(v url.Values) url.Values {
	if p.opts.APIKey != "" {
		v.Set("api_key", p.opts.APIKey)
	}
	if p.opts.Email != "" {
		v.Set("email", p.opts.Email)
	}
	return v
}

type pubMedSummary struct {
	UID     string `json:"uid"`
	Title   string `json:"title"`
	PubDate string `json:"pubdate"`
	Source  string `json:"source"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ArticleIDs []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

func (p *PubMed) summaries(ctx context.Context, pmids []string) ([]domain.Paper, error) {
	params := p.params(url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(pmids, ",")},
		"retmode": {"json"},
	})
	// esummary mixes a "uids" list with per-id objects under "result".
	var raw struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := p.getJSON(ctx, "summary", pubMedBase+"/esummary.fcgi?"+params.Encode(), nil, &raw); err != nil {
		return nil, err
	}

	out := make([]domain.Paper, 0, len(pmids))
	for _, pmid := range pmids {
		entry, ok := raw.Result[pmid]
		if !ok {
			continue
		}
		var s pubMedSummary
		if err := json.Unmarshal(entry, &s); err != nil || s.UID == "" {
			continue
		}
		out = append(out, s.toPaper(p.name))
	}
	return out, nil
}

func (s pubMedSummary) toPaper(provider string) domain.Paper {
	paper := domain.Paper{
		Provider:  provider,
		ID:        domain.CanonicalPaperID(domain.IDNamespacePubMed, s.UID),
		Title:     strings.TrimSuffix(strings.TrimSpace(s.Title), "."),
		Venue:     s.Source,
		URL:       "https://pubmed.ncbi.nlm.nih.gov/" + s.UID + "/",
		FetchedAt: time.Now().UTC(),
	}
	if len(s.PubDate) >= 4 {
		if year, err := strconv.Atoi(s.PubDate[:4]); err == nil {
			paper.Year = year
		}
	}
	for _, a := range s.Authors {
		if a.Name != "" {
			paper.Authors = append(paper.Authors, a.Name)
		}
	}
	paper.Aliases = appendUnique(paper.Aliases, paper.ID)
	for _, id := range s.ArticleIDs {
		if id.IDType == "doi" {
			paper.Aliases = appendUnique(paper.Aliases, domain.CanonicalPaperID(domain.IDNamespaceDOI, id.Value))
		}
	}
	return paper
}

func (p *PubMed) links(ctx context.Context, pmid, linkName string) ([]string, error) {
	params := p.params(url.Values{
		"dbfrom":   {"pubmed"},
		"db":       {"pubmed"},
		"id":       {pmid},
		"linkname": {linkName},
		"retmode":  {"json"},
	})
	var resp struct {
		LinkSets []struct {
			LinkSetDBs []struct {
				LinkName string   `json:"linkname"`
				Links    []string `json:"links"`
			} `json:"linksetdbs"`
		} `json:"linksets"`
	}
	if err := p.getJSON(ctx, "links", pubMedBase+"/elink.fcgi?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	var out []string
	for _, set := range resp.LinkSets {
		for _, db := range set.LinkSetDBs {
			if db.LinkName != linkName {
				continue
			}
			for _, id := range db.Links {
				out = appendUnique(out, domain.CanonicalPaperID(domain.IDNamespacePubMed, id))
			}
		}
	}
	return out, nil
}
