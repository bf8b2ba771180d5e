package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/paper-qa/internal/core/domain"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Extract, chunk and index local files",
	Long: `Ingest indexes PDF and plain-text files. Document ids are derived from the
absolute file path, so ingesting the same file again replaces its chunks. Only
useful with a persistent INDEX_BACKEND such as qdrant; the in-memory index is
discarded when the command exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngineOnly(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		var errs []error
		for _, path := range args {
			indexed, err := engine.IndexFile(cmd.Context(), path)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := enc.Encode(indexed); err != nil {
				return err
			}
		}
		return errors.Join(errs...)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove DOCUMENT_ID...",
	Short: "Remove documents from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngineOnly(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()
		for _, id := range args {
			if err := engine.Indexer.RemoveDocument(cmd.Context(), id); err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(removeCmd)
}
