package academic

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// semanticScholarBase is the Graph API root. Declared as a var so tests can
// substitute an httptest server.
var semanticScholarBase = "https://api.semanticscholar.org/graph/v1"

const (
	semanticScholarFields      = "paperId,title,abstract,authors,year,citationCount,externalIds,url,venue"
	semanticScholarGraphFields = semanticScholarFields + ",references.paperId,references.externalIds,citations.paperId,citations.externalIds"
)

type SemanticScholar struct {
	client
}

func NewSemanticScholar(opts Options) *SemanticScholar {
	return &SemanticScholar{client: client{name: "semantic_scholar", opts: opts.normalize()}}
}

func (p *SemanticScholar) Name() string { return p.name }

func (p *SemanticScholar) Supports(paperID string) bool {
	switch ns, _ := domain.SplitPaperID(paperID); ns {
	case domain.IDNamespaceDOI, domain.IDNamespaceArXiv, domain.IDNamespaceS2, domain.IDNamespacePubMed:
		return true
	default:
		return false
	}
}

func (p *SemanticScholar) FetchPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	ref, err := semanticScholarRef(paperID)
	if err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/paper/%s?fields=%s", semanticScholarBase, escapeID(ref), semanticScholarGraphFields)

	var sp s2Paper
	if err := p.getJSON(ctx, "fetch", reqURL, p.headers(), &sp); err != nil {
		return nil, err
	}
	paper := sp.toPaper(p.name)
	paper.ID = paperID
	paper.Aliases = appendUnique(paper.Aliases, sp.canonicalIDs()...)
	return &paper, nil
}

func (p *SemanticScholar) SearchPapers(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "semantic scholar search", fmt.Errorf("empty query"))
	}
	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", clampLimit(limit, 100))},
		"fields": {semanticScholarFields},
	}
	var sr struct {
		Data []s2Paper `json:"data"`
	}
	if err := p.getJSON(ctx, "search", semanticScholarBase+"/paper/search?"+params.Encode(), p.headers(), &sr); err != nil {
		return nil, err
	}
	out := make([]domain.Paper, 0, len(sr.Data))
	for _, sp := range sr.Data {
		paper := sp.toPaper(p.name)
		ids := sp.canonicalIDs()
		if len(ids) == 0 {
			continue
		}
		paper.ID = ids[0]
		paper.Aliases = ids
		out = append(out, paper)
	}
	return out, nil
}

func (p *SemanticScholar) headers() map[string]string {
	if p.opts.APIKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": p.opts.APIKey}
}

// semanticScholarRef maps a canonical id onto the Graph API id syntax.
func semanticScholarRef(paperID string) (string, error) {
	ns, value := domain.SplitPaperID(paperID)
	switch ns {
	case domain.IDNamespaceDOI:
		return "DOI:" + value, nil
	case domain.IDNamespaceArXiv:
		return "ARXIV:" + value, nil
	case domain.IDNamespacePubMed:
		return "PMID:" + value, nil
	case domain.IDNamespaceS2:
		return value, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "semantic scholar id", fmt.Errorf("unsupported id %q", paperID))
	}
}

type s2Ref struct {
	PaperID     string        `json:"paperId"`
	ExternalIDs s2ExternalIDs `json:"externalIds"`
}

type s2ExternalIDs struct {
	DOI    string `json:"DOI"`
	ArXiv  string `json:"ArXiv"`
	PubMed string `json:"PubMed"`
}

type s2Paper struct {
	PaperID       string        `json:"paperId"`
	Title         string        `json:"title"`
	Abstract      string        `json:"abstract"`
	Year          int           `json:"year"`
	CitationCount int           `json:"citationCount"`
	URL           string        `json:"url"`
	Venue         string        `json:"venue"`
	ExternalIDs   s2ExternalIDs `json:"externalIds"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
	References []s2Ref `json:"references"`
	Citations  []s2Ref `json:"citations"`
}

// canonicalIDs lists ids in preference order: DOI, arXiv, PubMed, S2.
func (sp s2Paper) canonicalIDs() []string {
	return s2Ref{PaperID: sp.PaperID, ExternalIDs: sp.ExternalIDs}.canonicalIDs()
}

func (r s2Ref) canonicalIDs() []string {
	var ids []string
	ids = appendUnique(ids,
		domain.CanonicalPaperID(domain.IDNamespaceDOI, r.ExternalIDs.DOI),
		domain.CanonicalPaperID(domain.IDNamespaceArXiv, r.ExternalIDs.ArXiv),
		domain.CanonicalPaperID(domain.IDNamespacePubMed, r.ExternalIDs.PubMed),
		domain.CanonicalPaperID(domain.IDNamespaceS2, r.PaperID),
	)
	return ids
}

func (sp s2Paper) toPaper(provider string) domain.Paper {
	paper := domain.Paper{
		Provider:      provider,
		Title:         strings.TrimSpace(sp.Title),
		Abstract:      strings.TrimSpace(sp.Abstract),
		Year:          sp.Year,
		CitationCount: sp.CitationCount,
		URL:           sp.URL,
		Venue:         sp.Venue,
		FetchedAt:     time.Now().UTC(),
	}
	for _, a := range sp.Authors {
		if a.Name != "" {
			paper.Authors = append(paper.Authors, a.Name)
		}
	}
	for _, ref := range sp.References {
		if ids := ref.canonicalIDs(); len(ids) > 0 {
			paper.References = appendUnique(paper.References, ids[0])
		}
	}
	for _, c := range sp.Citations {
		if ids := c.canonicalIDs(); len(ids) > 0 {
			paper.CitedBy = appendUnique(paper.CitedBy, ids[0])
		}
	}
	return paper
}
