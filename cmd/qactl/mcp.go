package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/paper-qa/internal/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine as MCP tools over stdio",
	Long: `Mcp exposes answer_question, export_references, summarize_document and the
paper cache tools to an MCP client over stdin/stdout. Files passed with --file
are indexed before serving. Logs always go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		engine, ids, err := openEngine(cmd.Context(), files)
		if err != nil {
			return err
		}
		defer engine.Close()

		deps := mcpadapter.Deps{
			Answerer:   engine.Answerer,
			Summarizer: engine.Summarizer,
		}
		if engine.Cache != nil {
			deps.Cache = engine.Cache
		}
		slog.Info("mcp_serving", "documents", ids)
		return mcpadapter.NewServer(deps, version).ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().StringSlice("file", nil, "index these files before serving (repeatable)")
	rootCmd.AddCommand(mcpCmd)
}
