package domain

import "time"

type SourceKind string

const (
	SourcePDF      SourceKind = "pdf"
	SourceWeb      SourceKind = "web"
	SourceAcademic SourceKind = "academic"
)

// SearchSource is a traceable citation attached to an Answer. Locator is the
// page number for pdf evidence and the URL otherwise.
type SearchSource struct {
	Kind        SourceKind `json:"kind" yaml:"kind"`
	Locator     string     `json:"locator" yaml:"locator"`
	Page        int        `json:"page,omitempty" yaml:"page,omitempty"`
	URL         string     `json:"url,omitempty" yaml:"url,omitempty"`
	Title       string     `json:"title,omitempty" yaml:"title,omitempty"`
	SourceType  string     `json:"source_type,omitempty" yaml:"source_type,omitempty"`
	Reliability float64    `json:"reliability" yaml:"reliability"`
	Snippet     string     `json:"snippet" yaml:"snippet"`
}

// WebPage is fetched web evidence before it becomes a SearchSource.
type WebPage struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Snippet     string    `json:"snippet"`
	Provider    string    `json:"provider"`
	SourceType  string    `json:"source_type"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Reliability float64   `json:"reliability"`
}

// WebHit is a search provider result before its page is fetched.
type WebHit struct {
	URL         string
	Title       string
	Snippet     string
	Provider    string
	PublishedAt time.Time
	// Content is set by providers that already return the main text
	// (abstracts); such hits skip the page fetch.
	Content string
}

type Question struct {
	Query          string `json:"query"`
	DocumentID     string `json:"document_id,omitempty"`
	UseWebResearch bool   `json:"use_web_research"`
	// SeedPaperIDs are canonical ids used as crawl seeds in addition to the
	// document bibliography.
	SeedPaperIDs []string `json:"seed_paper_ids,omitempty"`
}

type Diagnostics struct {
	RetrievalDegraded bool       `json:"retrieval_degraded,omitempty"`
	ExpansionSkipped  bool       `json:"expansion_skipped,omitempty"`
	PDFResults        int        `json:"pdf_results"`
	WebSources        int        `json:"web_sources"`
	AcademicSources   int        `json:"academic_sources"`
	WebErrors         int        `json:"web_errors,omitempty"`
	Crawl             CrawlStats `json:"crawl"`
	DurationMS        int64      `json:"duration_ms"`
}

type Answer struct {
	Text         string         `json:"text"`
	Sources      []SearchSource `json:"sources"`
	Confidence   float64        `json:"confidence"`
	Completeness float64        `json:"completeness"`
	Generated    bool           `json:"generated"`
	Diagnostics  Diagnostics    `json:"diagnostics"`
}
