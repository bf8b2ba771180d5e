package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/infrastructure/export"
)

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer a question from indexed papers",
	Long: `Ask retrieves passages from the indexed papers, optionally adds web research
and a citation-graph crawl (--web), and prints the synthesized answer with its
sources. The exit code is 3 when no evidence of any kind could be found.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSlice("file", nil, "index these files before asking (repeatable)")
	askCmd.Flags().String("document", "", "restrict document evidence to this document id")
	askCmd.Flags().Bool("web", false, "add web research and citation-graph evidence")
	askCmd.Flags().StringSlice("seed", nil, "paper ids that seed the citation crawl, e.g. doi:10.1000/xyz")
	askCmd.Flags().String("format", "text", "output format: text, json, or a reference format (markdown, yaml)")
	askCmd.Flags().Bool("progress", false, "print progress events to stderr")
	askCmd.Flags().String("out", "", "also write the references to this file; the extension picks the format (.md, .txt, .json, .yaml, .xlsx)")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	files, _ := cmd.Flags().GetStringSlice("file")
	documentID, _ := cmd.Flags().GetString("document")
	useWeb, _ := cmd.Flags().GetBool("web")
	seeds, _ := cmd.Flags().GetStringSlice("seed")
	format, _ := cmd.Flags().GetString("format")
	progress, _ := cmd.Flags().GetBool("progress")
	out, _ := cmd.Flags().GetString("out")

	engine, ids, err := openEngine(ctx, files)
	if err != nil {
		return err
	}
	defer engine.Close()
	if documentID == "" && len(ids) == 1 {
		documentID = ids[0]
	}

	q := domain.Question{
		Query:          strings.Join(args, " "),
		DocumentID:     documentID,
		UseWebResearch: useWeb,
		SeedPaperIDs:   seeds,
	}

	var answer *domain.Answer
	if progress {
		events := make(chan domain.ProgressEvent, 16)
		done := make(chan struct{})
		go func() {
			defer close(done)
			printProgress(cmd.ErrOrStderr(), events)
		}()
		answer, err = engine.Answerer.AnswerQuestionStream(ctx, q, events)
		close(events)
		<-done
	} else {
		answer, err = engine.Answerer.AnswerQuestion(ctx, q)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoEvidence) {
			fmt.Fprintln(cmd.ErrOrStderr(), "no evidence found for this question")
		}
		return err
	}
	if out != "" {
		if err := writeReferencesFile(out, answer.Sources); err != nil {
			return err
		}
	}
	return writeAnswer(cmd.OutOrStdout(), answer, format)
}

func writeReferencesFile(path string, sources []domain.SearchSource) error {
	f, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}
	data, err := export.References(sources, f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printProgress(w io.Writer, events <-chan domain.ProgressEvent) {
	for ev := range events {
		line := fmt.Sprintf("[%s] %s", ev.Stage, ev.Kind)
		if ev.PaperID != "" {
			line += " " + ev.PaperID
		}
		if ev.Count > 0 {
			line += fmt.Sprintf(" count=%d", ev.Count)
		}
		if ev.Message != "" {
			line += " " + ev.Message
		}
		fmt.Fprintln(w, line)
	}
}

func writeAnswer(w io.Writer, answer *domain.Answer, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		fmt.Fprintln(w, answer.Text)
		fmt.Fprintf(w, "\nconfidence %.2f, completeness %.2f\n\n", answer.Confidence, answer.Completeness)
		refs, err := export.References(answer.Sources, export.FormatText)
		if err != nil {
			return err
		}
		_, err = w.Write(refs)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	default:
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		if f == export.FormatXLSX {
			return domain.WrapError(domain.ErrInvalidInput, "write answer", errors.New("xlsx references need --out"))
		}
		refs, err := export.References(answer.Sources, f)
		if err != nil {
			return err
		}
		_, err = w.Write(refs)
		return err
	}
}
