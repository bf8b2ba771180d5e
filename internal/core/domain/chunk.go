package domain

import (
	"fmt"
	"strings"
)

type SectionKind string

const (
	SectionHeading  SectionKind = "heading"
	SectionBody     SectionKind = "body"
	SectionTable    SectionKind = "table"
	SectionFigure   SectionKind = "figure"
	SectionEquation SectionKind = "equation"
)

// ParseSectionKind maps free-form labels (including the "header"/"title"/"content"
// labels emitted by layout tools) onto a SectionKind.
func ParseSectionKind(raw string) SectionKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "heading", "header", "title":
		return SectionHeading
	case "table":
		return SectionTable
	case "figure", "image", "chart":
		return SectionFigure
	case "equation", "formula", "math":
		return SectionEquation
	default:
		return SectionBody
	}
}

// Chunk is an immutable slice of document content. Only membership in the
// index changes after creation.
type Chunk struct {
	ID         string      `json:"id"`
	DocumentID string      `json:"document_id"`
	Order      int         `json:"order"`
	Page       int         `json:"page"`
	Section    SectionKind `json:"section"`
	Text       string      `json:"text"`
	Embedding  []float32   `json:"embedding,omitempty"`
	PrevID     string      `json:"prev_id,omitempty"`
	NextID     string      `json:"next_id,omitempty"`
}

func ChunkID(documentID string, order int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, order)
}

// IndexedDocument summarizes the outcome of ProcessDocument.
type IndexedDocument struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Pages      int    `json:"pages"`
	Replaced   bool   `json:"replaced"`
}

type DocumentSummary struct {
	DocumentID   string `json:"document_id"`
	Summary      string `json:"summary"`
	Generated    bool   `json:"generated"`
	TotalPages   int    `json:"total_pages"`
	TotalChunks  int    `json:"total_chunks"`
	HasTables    bool   `json:"has_tables"`
	HasEquations bool   `json:"has_equations"`
	HasFigures   bool   `json:"has_figures"`
}
