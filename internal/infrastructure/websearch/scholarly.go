package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// scholarlyBase is the OpenAlex works endpoint. Declared as a var so tests
// can substitute an httptest server.
var scholarlyBase = "https://api.openalex.org/works"

// Scholarly returns scholarly works with their abstracts as content, so
// the research engine does not need to fetch publisher pages.
type Scholarly struct {
	client
}

func NewScholarly(opts Options) *Scholarly {
	return &Scholarly{client: client{name: "scholarly", opts: opts.normalize()}}
}

func (p *Scholarly) Name() string { return p.name }

func (p *Scholarly) Search(ctx context.Context, query string, limit int) ([]domain.WebHit, error) {
	params := url.Values{
		"search":   {query},
		"per_page": {strconv.Itoa(clampLimit(limit, 25))},
	}
	if p.opts.Email != "" {
		params.Set("mailto", p.opts.Email)
	}
	body, err := p.get(ctx, scholarlyBase+"?"+params.Encode(), "application/json")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []struct {
			ID                    string           `json:"id"`
			DOI                   string           `json:"doi"`
			DisplayName           string           `json:"display_name"`
			PublicationDate       string           `json:"publication_date"`
			AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
			PrimaryLocation       struct {
				LandingPageURL string `json:"landing_page_url"`
			} `json:"primary_location"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("scholarly parse: %w", err)
	}

	hits := make([]domain.WebHit, 0, len(resp.Results))
	for _, w := range resp.Results {
		target := w.DOI
		if target == "" {
			target = w.PrimaryLocation.LandingPageURL
		}
		if target == "" {
			target = w.ID
		}
		abstract := invertedToText(w.AbstractInvertedIndex)
		hit := domain.WebHit{
			URL:      target,
			Title:    w.DisplayName,
			Snippet:  trimSnippet(abstract, 200),
			Provider: p.name,
			Content:  abstract,
		}
		if t, err := time.Parse("2006-01-02", w.PublicationDate); err == nil {
			hit.PublishedAt = t
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func invertedToText(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type posWord struct {
		pos  int
		word string
	}
	pairs := make([]posWord, 0, len(index)*2)
	for word, positions := range index {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].pos < pairs[j].pos })
	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
