package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize an indexed paper",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, _ := cmd.Flags().GetStringSlice("file")
		documentID, _ := cmd.Flags().GetString("document")

		engine, ids, err := openEngine(cmd.Context(), files)
		if err != nil {
			return err
		}
		defer engine.Close()
		if documentID == "" && len(ids) > 0 {
			documentID = ids[0]
		}
		if documentID == "" {
			return domain.WrapError(domain.ErrInvalidInput, "summary", errors.New("--document or --file is required"))
		}

		summary, err := engine.Summarizer.SummarizeDocument(cmd.Context(), documentID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	summaryCmd.Flags().StringSlice("file", nil, "index this file and summarize it")
	summaryCmd.Flags().String("document", "", "document id to summarize")

	rootCmd.AddCommand(summaryCmd)
}
