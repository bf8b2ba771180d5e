// Package main is the qactl operator CLI. It runs the question answering
// engine in-process: local files are indexed on demand, answers and
// summaries are printed to stdout, and the paper cache can be inspected.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/paper-qa/internal/bootstrap"
	"github.com/kirillkom/paper-qa/internal/config"
	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/observability/logging"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "qactl",
	Short: "Ask questions about papers using document, web and citation-graph evidence",
	Long: `qactl drives the paper-qa engine without the API server. Configuration comes
from the same environment variables as the services (LLM_PROVIDER, INDEX_BACKEND,
CACHE_BACKEND, ...). With the default in-memory index, files passed with --file
are indexed in the same process before the command runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		slog.SetDefault(logging.NewCLILogger(level))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the qactl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
}

// openEngine builds the engine from the environment and indexes files.
// The returned document ids follow the order of files.
func openEngine(ctx context.Context, files []string) (*bootstrap.Engine, []string, error) {
	engine, err := bootstrap.NewEngine(ctx, config.Load(), nil)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(files))
	for _, path := range files {
		indexed, err := engine.IndexFile(ctx, path)
		if err != nil {
			engine.Close()
			return nil, nil, fmt.Errorf("index %s: %w", path, err)
		}
		slog.Info("file_indexed", "path", path, "document_id", indexed.DocumentID, "chunks", indexed.Chunks)
		ids = append(ids, indexed.DocumentID)
	}
	return engine, ids, nil
}

func exitCode(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return 2
	case domain.IsKind(err, domain.ErrNoEvidence):
		return 3
	case domain.IsKind(err, domain.ErrCancelled):
		return 130
	default:
		return 1
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}
