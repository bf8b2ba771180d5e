package usecase

import (
	"fmt"
	"strings"
)

func buildHypotheticalAnswerPrompt(query string) string {
	return fmt.Sprintf(`Write a short passage, as it would appear in a scientific paper, that answers the question below.
Do not mention that the passage is hypothetical. Plain text, at most 120 words.

Question:
%s
`, query)
}

func buildTranslationPrompt(query, language string) string {
	return fmt.Sprintf(`Translate the search query below into %s. Return only the translated query.

Query:
%s
`, language, query)
}

func buildSynthesisPrompt(query string, evidence []evidenceItem) string {
	var b strings.Builder
	for i, item := range evidence {
		fmt.Fprintf(&b, "[%d] (%s, %s)\n%s\n\n", i+1, item.source.Kind, item.source.Locator, item.text)
	}
	return fmt.Sprintf(`Answer the question using only the numbered evidence below.
Cite evidence inline as [n]. If the evidence does not answer part of the question, say so.

Question:
%s

Evidence:
%s`, query, b.String())
}

func buildSummaryPrompt(text string) string {
	return `Summarize the document excerpt below in at most five sentences.
Name the main contribution, the method and the key results.

Excerpt:
` + text
}
