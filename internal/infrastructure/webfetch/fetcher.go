package webfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

const (
	maxBodyBytes     = 2 << 20
	defaultUserAgent = "Mozilla/5.0 (compatible; paper-qa/1.0; +https://github.com/kirillkom/paper-qa)"
)

var multiSpacePattern = regexp.MustCompile(`\s+`)

// skipped elements carry page chrome rather than content.
var skipped = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "iframe": {}, "svg": {},
	"nav": {}, "header": {}, "footer": {}, "aside": {}, "form": {},
}

type Fetcher struct {
	httpClient *http.Client
	userAgent  string
}

func New(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{httpClient: httpClient, userAgent: defaultUserAgent}
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Fetch downloads url and extracts its title and main text. The caller's
// deadline surfaces as ErrFetchTimeout.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.WebPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch page", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,text/markdown;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, url, err)
	}

	page := &domain.WebPage{URL: url}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			page.PublishedAt = t.UTC()
		}
	}

	kind, err := textKind(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("fetch %s: %w", url, ErrUnsupportedContent)
	}
	if kind == kindPlain {
		page.Content = collapse(string(body))
		return page, nil
	}

	title, content, published, err := ExtractHTML(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	page.Title = title
	page.Content = content
	if page.PublishedAt.IsZero() && !published.IsZero() {
		page.PublishedAt = published
	}
	return page, nil
}

// ErrUnsupportedContent marks responses that are not readable text, such
// as PDFs or images served from search result links.
var ErrUnsupportedContent = errors.New("unsupported content")

const (
	kindHTML  = "html"
	kindPlain = "plain"
)

// textKind accepts HTML and plain text only. A missing header falls back
// to sniffing the body.
func textKind(header string, body []byte) (string, error) {
	mediaType := ""
	if header != "" {
		parsed, _, err := mime.ParseMediaType(header)
		if err != nil {
			return "", fmt.Errorf("%w: content type %q", ErrUnsupportedContent, header)
		}
		mediaType = parsed
	} else {
		mediaType, _, _ = mime.ParseMediaType(http.DetectContentType(body))
	}
	switch strings.ToLower(mediaType) {
	case "text/html", "application/xhtml+xml":
		return kindHTML, nil
	case "text/plain", "text/markdown":
		return kindPlain, nil
	default:
		return "", fmt.Errorf("%w: content type %q", ErrUnsupportedContent, mediaType)
	}
}

func classify(ctx context.Context, url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrFetchTimeout, "fetch "+url, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("fetch %s: %w", url, err)
}

// ExtractHTML returns the page title, the text of its main content region
// (article, main, role=main, #content; else body) and a published time
// from article meta tags when present.
func ExtractHTML(raw []byte) (string, string, time.Time, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", "", time.Time{}, err
	}

	var (
		title     string
		published time.Time
		main      *html.Node
		body      *html.Node
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = collapse(textOf(n))
				}
			case "meta":
				if published.IsZero() && isPublishedMeta(n) {
					if t, err := time.Parse(time.RFC3339, attr(n, "content")); err == nil {
						published = t.UTC()
					} else if t, err := time.Parse("2006-01-02", attr(n, "content")); err == nil {
						published = t
					}
				}
			case "body":
				body = n
			case "article", "main":
				if main == nil {
					main = n
				}
			default:
				if main == nil && (attr(n, "role") == "main" || attr(n, "id") == "content" || attr(n, "id") == "main") {
					main = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	root := main
	if root == nil {
		root = body
	}
	if root == nil {
		root = doc
	}
	return title, collapse(textOf(root)), published, nil
}

func isPublishedMeta(n *html.Node) bool {
	key := strings.ToLower(attr(n, "property") + attr(n, "name") + attr(n, "itemprop"))
	return key == "article:published_time" || key == "citation_publication_date" || key == "datepublished" || key == "dc.date"
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node, int)
	walk = func(n *html.Node, depth int) {
		if depth > 64 {
			return
		}
		if n.Type == html.ElementNode {
			if _, skip := skipped[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpacePattern.ReplaceAllString(s, " "))
}
