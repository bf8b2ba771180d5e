package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatXLSX     Format = "xlsx"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse export format", fmt.Errorf("unsupported format %q", raw))
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// References renders the citations of an answer.
func References(sources []domain.SearchSource, format Format) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return markdown(sources), nil
	case FormatText:
		return text(sources), nil
	case FormatJSON:
		return json.MarshalIndent(map[string]any{"sources": nonNil(sources)}, "", "  ")
	case FormatYAML:
		return yaml.Marshal(map[string]any{"sources": nonNil(sources)})
	case FormatXLSX:
		return spreadsheet(sources)
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "export references", fmt.Errorf("unsupported format %q", format))
	}
}

func nonNil(sources []domain.SearchSource) []domain.SearchSource {
	if sources == nil {
		return []domain.SearchSource{}
	}
	return sources
}

func label(s domain.SearchSource) string {
	switch {
	case s.Title != "":
		return s.Title
	case s.Kind == domain.SourcePDF:
		return "Document page " + strconv.Itoa(s.Page)
	default:
		return s.Locator
	}
}

func locator(s domain.SearchSource) string {
	if s.Kind == domain.SourcePDF {
		return "p. " + strconv.Itoa(s.Page)
	}
	if s.URL != "" {
		return s.URL
	}
	return s.Locator
}

func markdown(sources []domain.SearchSource) []byte {
	var b bytes.Buffer
	b.WriteString("## References\n\n")
	for i, s := range sources {
		name := label(s)
		if s.URL != "" {
			name = "[" + name + "](" + s.URL + ")"
		}
		fmt.Fprintf(&b, "%d. %s (%s, reliability %.2f)", i+1, name, s.Kind, s.Reliability)
		if s.Kind == domain.SourcePDF {
			fmt.Fprintf(&b, ", p. %d", s.Page)
		}
		b.WriteByte('\n')
		if s.Snippet != "" {
			fmt.Fprintf(&b, "   > %s\n", s.Snippet)
		}
	}
	return b.Bytes()
}

func text(sources []domain.SearchSource) []byte {
	var b bytes.Buffer
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s. %s. %s\n", i+1, label(s), s.Kind, locator(s))
	}
	return b.Bytes()
}

func spreadsheet(sources []domain.SearchSource) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "References"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := []any{"#", "Kind", "Title", "Locator", "Source type", "Reliability", "Snippet"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, s := range sources {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{i + 1, string(s.Kind), label(s), locator(s), s.SourceType, s.Reliability, s.Snippet}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
