package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

var (
	doiPattern        = regexp.MustCompile(`(?i)\b(10\.\d{4,9}/[-._;()/:a-z0-9]+)`)
	arxivPattern      = regexp.MustCompile(`(?i)\barxiv[:\s]\s*(\d{4}\.\d{4,5})(v\d+)?`)
	arxivURLPattern   = regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5})`)
	pubmedPattern     = regexp.MustCompile(`(?i)\bPMID:?\s*(\d{5,9})\b`)
	trailingDOIPuncts = ".,;:)]}"
)

type idMatch struct {
	pos int
	id  string
}

// ExtractPaperIDs finds DOI, arXiv and PubMed identifiers in text and
// returns them as canonical ids in order of first appearance.
func ExtractPaperIDs(text string) []string {
	var matches []idMatch
	for _, m := range doiPattern.FindAllStringSubmatchIndex(text, -1) {
		value := strings.TrimRight(text[m[2]:m[3]], trailingDOIPuncts)
		matches = append(matches, idMatch{pos: m[0], id: domain.CanonicalPaperID(domain.IDNamespaceDOI, value)})
	}
	for _, re := range []*regexp.Regexp{arxivPattern, arxivURLPattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			matches = append(matches, idMatch{pos: m[0], id: domain.CanonicalPaperID(domain.IDNamespaceArXiv, text[m[2]:m[3]])})
		}
	}
	for _, m := range pubmedPattern.FindAllStringSubmatchIndex(text, -1) {
		matches = append(matches, idMatch{pos: m[0], id: domain.CanonicalPaperID(domain.IDNamespacePubMed, text[m[2]:m[3]])})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m.id]; ok {
			continue
		}
		seen[m.id] = struct{}{}
		out = append(out, m.id)
	}
	return out
}

// bibliographyIDs prefers reference-section chunks; the whole document is
// scanned when no reference heading is found.
func bibliographyIDs(chunks []domain.Chunk) []string {
	start := -1
	for i, c := range chunks {
		if c.Section != domain.SectionHeading {
			continue
		}
		lower := strings.ToLower(c.Text)
		if strings.HasPrefix(lower, "references") || strings.HasPrefix(lower, "bibliography") {
			start = i
		}
	}
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, c := range chunks[start:] {
		b.WriteString(c.Text)
		b.WriteByte('\n')
	}
	return ExtractPaperIDs(b.String())
}
