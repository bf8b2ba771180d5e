package usecase

import (
	"net/url"
	"strings"
	"time"
)

const (
	sourceTypeAcademic     = "academic"
	sourceTypeEncyclopedia = "encyclopedia"
	sourceTypeOfficial     = "official"
	sourceTypeNews         = "news"
	sourceTypeWeb          = "web"
)

var (
	academicHosts      = []string{"scholar.google", "arxiv.org", "pubmed", "ieee.org", "acm.org", "doi.org", "openalex.org", "semanticscholar.org"}
	newsHosts          = []string{"bbc.com", "bbc.co.uk", "reuters.com", "ap.org", "apnews.com", "cnn.com", "nytimes.com"}
	academicIndicators = []string{"doi:", "abstract:", "citation:", "references:", "bibliography:"}
)

// classifySource returns the source type and domain tier of a page.
func classifySource(rawURL, content string) (string, float64) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)

	switch {
	case containsAny(host, academicHosts):
		return sourceTypeAcademic, 0.9
	case strings.Contains(host, "wikipedia.org"):
		return sourceTypeEncyclopedia, 0.8
	case strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") ||
		strings.Contains(host, ".gov.") || strings.Contains(host, ".edu."):
		return sourceTypeOfficial, 0.85
	case containsAny(host, newsHosts):
		return sourceTypeNews, 0.7
	case containsAny(strings.ToLower(content), academicIndicators):
		return sourceTypeAcademic, 0.8
	default:
		return sourceTypeWeb, 0.5
	}
}

// recencyScore is 1 within a year of now, decays linearly to 0.2 at ten
// years and stays there. Unknown dates score 0.5.
func recencyScore(published, now time.Time) float64 {
	if published.IsZero() {
		return 0.5
	}
	years := now.Sub(published).Hours() / (24 * 365)
	switch {
	case years <= 1:
		return 1
	case years >= 10:
		return 0.2
	default:
		return 1 - 0.8*(years-1)/9
	}
}

func reliabilityScore(tier float64, contentLen int, recency float64) float64 {
	lengthScore := min(float64(contentLen)/3000, 1)
	return clamp01(0.6*tier + 0.25*lengthScore + 0.15*recency)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
