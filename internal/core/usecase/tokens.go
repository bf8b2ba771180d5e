package usecase

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {},
	"for": {}, "with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"what": {}, "which": {}, "who": {}, "how": {}, "why": {}, "when": {}, "where": {}, "does": {},
	"do": {}, "did": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {}, "its": {},
	"as": {}, "at": {}, "from": {}, "about": {}, "can": {}, "i": {}, "me": {}, "my": {}, "we": {},
	"you": {}, "your": {}, "there": {}, "their": {}, "has": {}, "have": {}, "had": {}, "not": {},
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// contentTokens drops stopwords and single-rune tokens.
func contentTokens(s string) map[string]struct{} {
	out := toTokenSet(s)
	for token := range out {
		if _, stop := stopwords[token]; stop || len([]rune(token)) < 2 {
			delete(out, token)
		}
	}
	return out
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
