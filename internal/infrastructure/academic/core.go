package academic

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// coreBase is the CORE v3 API root. Declared as a var so tests can
// substitute an httptest server.
var coreBase = "https://api.core.ac.uk/v3"

// CORE covers open-access full texts. It exposes no reference lists, so
// papers fetched here are leaves of the crawl.
type CORE struct {
	client
}

func NewCORE(opts Options) *CORE {
	return &CORE{client: client{name: "core", opts: opts.normalize()}}
}

func (p *CORE) Name() string { return p.name }

func (p *CORE) Supports(paperID string) bool {
	switch ns, _ := domain.SplitPaperID(paperID); ns {
	case domain.IDNamespaceCORE, domain.IDNamespaceDOI:
		return true
	default:
		return false
	}
}

func (p *CORE) FetchPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	ns, value := domain.SplitPaperID(paperID)
	var work coreWork
	switch ns {
	case domain.IDNamespaceCORE:
		if err := p.getJSON(ctx, "fetch", coreBase+"/works/"+escapeID(value), p.headers(), &work); err != nil {
			return nil, err
		}
	case domain.IDNamespaceDOI:
		works, err := p.search(ctx, fmt.Sprintf("doi:%q", value), 1)
		if err != nil {
			return nil, err
		}
		if len(works) == 0 {
			return nil, domain.WrapError(domain.ErrPaperNotFound, "core fetch", fmt.Errorf("doi=%s", value))
		}
		work = works[0]
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "core id", fmt.Errorf("unsupported id %q", paperID))
	}
	paper := work.toPaper(p.name)
	paper.ID = paperID
	return &paper, nil
}

func (p *CORE) SearchPapers(ctx context.Context, query string, limit int) ([]domain.Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "core search", fmt.Errorf("empty query"))
	}
	works, err := p.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Paper, 0, len(works))
	for _, work := range works {
		paper := work.toPaper(p.name)
		if len(paper.Aliases) == 0 {
			continue
		}
		paper.ID = paper.Aliases[0]
		out = append(out, paper)
	}
	return out, nil
}

func (p *CORE) search(ctx context.Context, q string, limit int) ([]coreWork, error) {
	params := url.Values{
		"q":     {q},
		"limit": {strconv.Itoa(clampLimit(limit, 100))},
	}
	var resp struct {
		Results []coreWork `json:"results"`
	}
	if err := p.getJSON(ctx, "search", coreBase+"/search/works?"+params.Encode(), p.headers(), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (p *CORE) headers() map[string]string {
	if p.opts.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.opts.APIKey}
}

type coreWork struct {
	ID            any    `json:"id"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	DOI           string `json:"doi"`
	YearPublished int    `json:"yearPublished"`
	CitationCount int    `json:"citationCount"`
	DownloadURL   string `json:"downloadUrl"`
	Publisher     string `json:"publisher"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (w coreWork) toPaper(provider string) domain.Paper {
	paper := domain.Paper{
		Provider:      provider,
		Title:         strings.TrimSpace(w.Title),
		Abstract:      strings.TrimSpace(w.Abstract),
		Year:          w.YearPublished,
		CitationCount: w.CitationCount,
		URL:           w.DownloadURL,
		Venue:         w.Publisher,
		FetchedAt:     time.Now().UTC(),
	}
	for _, a := range w.Authors {
		if a.Name != "" {
			paper.Authors = append(paper.Authors, a.Name)
		}
	}
	id := ""
	switch v := w.ID.(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatInt(int64(v), 10)
	}
	paper.Aliases = appendUnique(paper.Aliases,
		domain.CanonicalPaperID(domain.IDNamespaceDOI, w.DOI),
		domain.CanonicalPaperID(domain.IDNamespaceCORE, id),
	)
	return paper
}
