package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

// Splitter turns extracted pages into ordered chunks. Chunks never span a
// page boundary; a heading starts a new chunk, and table, figure and
// equation blocks become chunks of their own kind.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

var (
	numberedHeading = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVX]+\.)\s+\p{Lu}`)
	figureCaption   = regexp.MustCompile(`(?i)^(figure|fig\.)\s*\d+`)
	tableCaption    = regexp.MustCompile(`(?i)^table\s*\d+`)
	blankLines      = regexp.MustCompile(`\n\s*\n`)
)

var knownHeadings = map[string]struct{}{
	"abstract": {}, "introduction": {}, "background": {}, "related work": {}, "method": {}, "methods": {},
	"methodology": {}, "results": {}, "discussion": {}, "conclusion": {}, "conclusions": {},
	"references": {}, "bibliography": {}, "acknowledgements": {}, "acknowledgments": {}, "appendix": {},
	"experiments": {}, "evaluation": {},
}

func (s *Splitter) Split(pages []domain.PageText) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(pages)*2)
	for _, page := range pages {
		number := page.Number
		if number <= 0 {
			number = 1
		}
		for _, piece := range s.splitPage(page.Text) {
			out = append(out, domain.Chunk{
				Order:   len(out),
				Page:    number,
				Section: piece.kind,
				Text:    piece.text,
			})
		}
	}
	return out
}

type piece struct {
	kind domain.SectionKind
	text string
}

func (s *Splitter) splitPage(text string) []piece {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var (
		out     []piece
		current piece
	)
	flush := func() {
		if strings.TrimSpace(current.text) != "" {
			out = append(out, s.window(current)...)
		}
		current = piece{}
	}

	for _, block := range blankLines.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		kind := ClassifyBlock(block)
		switch kind {
		case domain.SectionHeading:
			flush()
			current = piece{kind: domain.SectionHeading, text: collapseSpaces(block)}
		case domain.SectionBody:
			if current.kind == "" {
				current.kind = domain.SectionBody
			}
			if current.kind != domain.SectionBody && current.kind != domain.SectionHeading {
				flush()
				current.kind = domain.SectionBody
			}
			joined := collapseSpaces(block)
			if current.text != "" && utf8.RuneCountInString(current.text)+1+utf8.RuneCountInString(joined) > s.ChunkSize {
				flush()
				current.kind = domain.SectionBody
			}
			if current.text != "" {
				current.text += " "
			}
			current.text += joined
		default:
			flush()
			// Keep line structure for tables and equations.
			out = append(out, s.window(piece{kind: kind, text: block})...)
		}
	}
	flush()
	return out
}

// window applies the rune window with overlap to oversize pieces.
func (s *Splitter) window(p piece) []piece {
	runes := []rune(p.text)
	if len(runes) <= s.ChunkSize {
		return []piece{{kind: p.kind, text: strings.TrimSpace(p.text)}}
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]piece, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			kind := p.kind
			if kind == domain.SectionHeading && start > 0 {
				kind = domain.SectionBody
			}
			out = append(out, piece{kind: kind, text: chunk})
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ClassifyBlock guesses the section kind of one paragraph of plain text.
func ClassifyBlock(block string) domain.SectionKind {
	block = strings.TrimSpace(block)
	if block == "" {
		return domain.SectionBody
	}
	firstLine := block
	if idx := strings.IndexByte(block, '\n'); idx >= 0 {
		firstLine = strings.TrimSpace(block[:idx])
	}

	switch {
	case tableCaption.MatchString(firstLine) || looksTabular(block):
		return domain.SectionTable
	case figureCaption.MatchString(firstLine):
		return domain.SectionFigure
	case looksLikeEquation(block):
		return domain.SectionEquation
	case looksLikeHeading(block):
		return domain.SectionHeading
	default:
		return domain.SectionBody
	}
}

func looksLikeHeading(block string) bool {
	if strings.Contains(block, "\n") || utf8.RuneCountInString(block) > 80 {
		return false
	}
	if strings.HasSuffix(block, ".") && !numberedHeading.MatchString(block) {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(strings.TrimLeftFunc(block, func(r rune) bool {
		return unicode.IsDigit(r) || r == '.' || unicode.IsSpace(r)
	})))
	if _, ok := knownHeadings[normalized]; ok {
		return true
	}
	if numberedHeading.MatchString(block) && len(strings.Fields(block)) <= 8 {
		return true
	}
	letters, upper := 0, 0
	for _, r := range block {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 4 && upper == letters
}

// looksTabular reports blocks of three or more lines that share a column
// layout (tab, pipe or wide-space separated cells).
func looksTabular(block string) bool {
	lines := strings.Split(block, "\n")
	if len(lines) < 3 {
		return false
	}
	counts := map[int]int{}
	maxCols := 0
	for _, line := range lines {
		cols := countColumns(line)
		counts[cols]++
		if cols > maxCols {
			maxCols = cols
		}
	}
	return maxCols >= 2 && len(counts) <= 2
}

func countColumns(line string) int {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0
	}
	if strings.Contains(line, "|") {
		return len(strings.FieldsFunc(line, func(r rune) bool { return r == '|' }))
	}
	if strings.Contains(line, "\t") {
		return len(strings.Split(line, "\t"))
	}
	cols := 1
	spaces := 0
	for _, r := range line {
		if r == ' ' {
			spaces++
			continue
		}
		if spaces >= 2 {
			cols++
		}
		spaces = 0
	}
	return cols
}

func looksLikeEquation(block string) bool {
	if utf8.RuneCountInString(block) > 200 || !strings.ContainsAny(block, "=≈≤≥∑∫") {
		return false
	}
	letters, symbols := 0, 0
	for _, r := range block {
		switch {
		case unicode.IsLetter(r):
			letters++
		case strings.ContainsRune("=+-*/^_()[]{}<>|∑∫√≈≤≥·", r) || unicode.IsDigit(r):
			symbols++
		}
	}
	return symbols > 0 && float64(symbols) >= 0.5*float64(letters)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
