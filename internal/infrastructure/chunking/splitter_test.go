package chunking

import (
	"strings"
	"testing"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

func TestSplitKeepsPagesAndOrders(t *testing.T) {
	s := NewSplitter(200, 20)
	chunks := s.Split([]domain.PageText{
		{Number: 1, Text: "Introduction\n\nWe study retrieval for long papers."},
		{Number: 2, Text: "Results were strong across tasks."},
	})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].Page != 1 || chunks[1].Page != 2 {
		t.Fatalf("expected pages 1 and 2, got %d and %d", chunks[0].Page, chunks[1].Page)
	}
	if chunks[0].Order != 0 || chunks[1].Order != 1 {
		t.Fatalf("expected sequential orders, got %d, %d", chunks[0].Order, chunks[1].Order)
	}
	if chunks[0].Section != domain.SectionHeading || !strings.HasPrefix(chunks[0].Text, "Introduction We study") {
		t.Fatalf("expected heading chunk with following body, got %+v", chunks[0])
	}
}

func TestSplitSeparatesTablesAndEquations(t *testing.T) {
	s := NewSplitter(500, 50)
	page := strings.Join([]string{
		"The model is evaluated on three datasets.",
		"Table 2: accuracy\nmodel  acc\nbase  71.2\nours  78.9",
		"E = m * c^2",
		"Figure 3 shows the learning curve.",
	}, "\n\n")
	chunks := s.Split([]domain.PageText{{Number: 4, Text: page}})

	kinds := make([]domain.SectionKind, 0, len(chunks))
	for _, c := range chunks {
		kinds = append(kinds, c.Section)
	}
	want := []domain.SectionKind{domain.SectionBody, domain.SectionTable, domain.SectionEquation, domain.SectionFigure}
	if len(kinds) != len(want) {
		t.Fatalf("expected kinds %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected kinds %v, got %v", want, kinds)
		}
	}
}

func TestSplitWindowsOversizeParagraphs(t *testing.T) {
	s := NewSplitter(50, 10)
	long := strings.Repeat("token ", 40)
	chunks := s.Split([]domain.PageText{{Number: 1, Text: long}})
	if len(chunks) < 4 {
		t.Fatalf("expected several windows, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c.Text)) > 50 {
			t.Fatalf("chunk exceeds size: %d", len([]rune(c.Text)))
		}
	}
}

func TestClassifyBlock(t *testing.T) {
	cases := map[string]domain.SectionKind{
		"3.1 Training Setup":                   domain.SectionHeading,
		"CONCLUSIONS":                          domain.SectionHeading,
		"We trained for ten epochs.":           domain.SectionBody,
		"a | b | c\n1 | 2 | 3\n4 | 5 | 6":      domain.SectionTable,
		"Fig. 2 Attention maps":                domain.SectionFigure,
		"L = -sum(y * log(p))":                 domain.SectionEquation,
		"The value x = 3 was chosen by a grid": domain.SectionBody,
	}
	for input, want := range cases {
		if got := ClassifyBlock(input); got != want {
			t.Fatalf("ClassifyBlock(%q) expected %s, got %s", input, want, got)
		}
	}
}

func TestSplitEmptyPages(t *testing.T) {
	if got := NewSplitter(0, 0).Split([]domain.PageText{{Number: 1, Text: "  \n\n "}}); len(got) != 0 {
		t.Fatalf("expected no chunks, got %d", len(got))
	}
}
