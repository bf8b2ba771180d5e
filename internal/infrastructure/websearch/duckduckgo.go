package websearch

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// duckDuckGoBase is the HTML-only results endpoint. Declared as a var so
// tests can substitute an httptest server.
var duckDuckGoBase = "https://html.duckduckgo.com/html/"

// DuckDuckGo covers the general web by parsing the HTML results page.
type DuckDuckGo struct {
	client
}

func NewDuckDuckGo(opts Options) *DuckDuckGo {
	return &DuckDuckGo{client: client{name: "duckduckgo", opts: opts.normalize()}}
}

func (p *DuckDuckGo) Name() string { return p.name }

func (p *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]domain.WebHit, error) {
	body, err := p.get(ctx, duckDuckGoBase+"?q="+url.QueryEscape(query), "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	hits, err := parseDuckDuckGo(body, clampLimit(limit, 30))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo parse: %w", err)
	}
	for i := range hits {
		hits[i].Provider = p.name
	}
	return hits, nil
}

func parseDuckDuckGo(raw []byte, limit int) ([]domain.WebHit, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var hits []domain.WebHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(hits) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "result") {
			if hit := extractDuckDuckGoHit(n); hit.URL != "" && hit.Title != "" {
				hits = append(hits, hit)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

func extractDuckDuckGoHit(n *html.Node) domain.WebHit {
	var hit domain.WebHit
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				hit.URL = unwrapRedirect(attr(n, "href"))
				hit.Title = textOf(n)
			case hasClass(n, "result__snippet"):
				hit.Snippet = trimSnippet(textOf(n), 200)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return hit
}

// unwrapRedirect resolves //duckduckgo.com/l/?uddg=<target> links.
func unwrapRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
