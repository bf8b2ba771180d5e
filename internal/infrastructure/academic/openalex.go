package academic

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// openAlexBase is the OpenAlex API root. Declared as a var so tests can
// substitute an httptest server.
var openAlexBase = "https://api.openalex.org"

const openAlexWorkPrefix = "https://openalex.org/"

type OpenAlex struct {
	client
}

func NewOpenAlex(opts Options) *OpenAlex {
	return &OpenAlex{client: client{name: "openalex", opts: opts.normalize()}}
}

func (p *OpenAlex) Name() string { return p.name }

func (p *OpenAlex) Supports(paperID string) bool {
	switch ns, _ := domain.SplitPaperID(paperID); ns {
	case domain.IDNamespaceDOI, domain.IDNamespaceOpenAlex, domain.IDNamespacePubMed:
		return true
	default:
		return false
	}
}

func (p *OpenAlex) FetchPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	ns, value := domain.SplitPaperID(paperID)
	var ref string
	switch ns {
	case domain.IDNamespaceDOI:
		ref = "doi:" + value
	case domain.IDNamespacePubMed:
		ref = "pmid:" + value
	case domain.IDNamespaceOpenAlex:
		ref = value
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "openalex id", fmt.Errorf("unsupported id %q", paperID))
	}

	var work openAlexWork
	if err := p.getJSON(ctx, "fetch", openAlexBase+"/works/"+escapeID(ref)+p.mailto("?"), nil, &work); err != nil {
		return nil, err
	}
	paper := work.toPaper(p.name)
	paper.ID = paperID
	paper.Aliases = appendUnique(paper.Aliases, work.canonicalIDs()...)
	return &paper, nil
}

func (p *OpenAlex) SearchPapers(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	works, err := p.searchWorks(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Paper, 0, len(works))
	for _, work := range works {
		paper := work.toPaper(p.name)
		ids := work.canonicalIDs()
		if len(ids) == 0 {
			continue
		}
		paper.ID = ids[0]
		paper.Aliases = ids
		out = append(out, paper)
	}
	return out, nil
}

func (p *OpenAlex) searchWorks(ctx context.Context, query string, limit int) ([]openAlexWork, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openalex search", fmt.Errorf("empty query"))
	}
	params := url.Values{
		"search":   {query},
		"per_page": {fmt.Sprintf("%d", clampLimit(limit, 200))},
		"page":     {"1"},
	}
	if p.opts.Email != "" {
		params.Set("mailto", p.opts.Email)
	}
	var resp struct {
		Results []openAlexWork `json:"results"`
	}
	if err := p.getJSON(ctx, "search", openAlexBase+"/works?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (p *OpenAlex) mailto(sep string) string {
	if p.opts.Email == "" {
		return ""
	}
	return sep + "mailto=" + url.QueryEscape(p.opts.Email)
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	DOI                   string           `json:"doi"`
	Title                 string           `json:"title"`
	DisplayName           string           `json:"display_name"`
	PublicationYear       int              `json:"publication_year"`
	PublicationDate       string           `json:"publication_date"`
	CitedByCount          int              `json:"cited_by_count"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	ReferencedWorks       []string         `json:"referenced_works"`
	IDs                   struct {
		PMID string `json:"pmid"`
	} `json:"ids"`
	Authorships []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	PrimaryLocation struct {
		LandingPageURL string `json:"landing_page_url"`
		Source         struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
}

func openAlexShortID(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), openAlexWorkPrefix)
}

func (w openAlexWork) canonicalIDs() []string {
	pmid := strings.TrimPrefix(w.IDs.PMID, "https://pubmed.ncbi.nlm.nih.gov/")
	var ids []string
	return appendUnique(ids,
		domain.CanonicalPaperID(domain.IDNamespaceDOI, w.DOI),
		domain.CanonicalPaperID(domain.IDNamespacePubMed, strings.TrimSuffix(pmid, "/")),
		domain.CanonicalPaperID(domain.IDNamespaceOpenAlex, openAlexShortID(w.ID)),
	)
}

func (w openAlexWork) toPaper(provider string) domain.Paper {
	title := w.Title
	if title == "" {
		title = w.DisplayName
	}
	paper := domain.Paper{
		Provider:      provider,
		Title:         strings.TrimSpace(title),
		Abstract:      reconstructAbstract(w.AbstractInvertedIndex),
		Year:          w.PublicationYear,
		CitationCount: w.CitedByCount,
		URL:           w.PrimaryLocation.LandingPageURL,
		Venue:         w.PrimaryLocation.Source.DisplayName,
		FetchedAt:     time.Now().UTC(),
	}
	if paper.URL == "" && w.DOI != "" {
		paper.URL = w.DOI
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			paper.Authors = append(paper.Authors, a.Author.DisplayName)
		}
	}
	for _, ref := range w.ReferencedWorks {
		paper.References = appendUnique(paper.References, domain.CanonicalPaperID(domain.IDNamespaceOpenAlex, openAlexShortID(ref)))
	}
	return paper
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].pos != pairs[j].pos {
			return pairs[i].pos < pairs[j].pos
		}
		return pairs[i].word < pairs[j].word
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
