package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// wikipediaBase is a format string taking the language edition. Declared
// as a var so tests can substitute an httptest server.
var wikipediaBase = "https://%s.wikipedia.org"

// Wikipedia covers encyclopedic sources through the MediaWiki search API.
type Wikipedia struct {
	client
}

func NewWikipedia(opts Options) *Wikipedia {
	return &Wikipedia{client: client{name: "wikipedia", opts: opts.normalize()}}
}

func (p *Wikipedia) Name() string { return p.name }

func (p *Wikipedia) Search(ctx context.Context, query string, limit int) ([]domain.WebHit, error) {
	base := p.base()
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {strconv.Itoa(clampLimit(limit, 20))},
		"format":   {"json"},
	}
	body, err := p.get(ctx, base+"/w/api.php?"+params.Encode(), "application/json")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Query struct {
			Search []struct {
				Title     string `json:"title"`
				Snippet   string `json:"snippet"`
				Timestamp string `json:"timestamp"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("wikipedia parse: %w", err)
	}

	hits := make([]domain.WebHit, 0, len(resp.Query.Search))
	for _, r := range resp.Query.Search {
		hit := domain.WebHit{
			URL:      base + "/wiki/" + url.PathEscape(strings.ReplaceAll(r.Title, " ", "_")),
			Title:    r.Title,
			Snippet:  trimSnippet(stripTags(r.Snippet), 200),
			Provider: p.name,
		}
		if t, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			hit.PublishedAt = t.UTC()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (p *Wikipedia) base() string {
	if strings.Contains(wikipediaBase, "%s") {
		return fmt.Sprintf(wikipediaBase, p.opts.Language)
	}
	return wikipediaBase
}

// stripTags removes the search-match markup MediaWiki puts in snippets.
func stripTags(s string) string {
	nodes, err := html.ParseFragment(bytes.NewReader([]byte(s)), nil)
	if err != nil {
		return s
	}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(textOf(n))
		sb.WriteByte(' ')
	}
	return strings.TrimSpace(sb.String())
}
