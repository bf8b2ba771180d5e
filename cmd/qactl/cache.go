package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/paper-qa/internal/bootstrap"
	"github.com/kirillkom/paper-qa/internal/core/domain"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the citation-graph paper cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count cached papers by provider and freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openCacheEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Cache.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete cached papers older than CACHE_TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openCacheEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		n, err := engine.Cache.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{"purged": n})
	},
}

func openEngineOnly(cmd *cobra.Command) (*bootstrap.Engine, error) {
	engine, _, err := openEngine(cmd.Context(), nil)
	return engine, err
}

func openCacheEngine(cmd *cobra.Command) (*bootstrap.Engine, error) {
	engine, err := openEngineOnly(cmd)
	if err != nil {
		return nil, err
	}
	if engine.Cache == nil {
		engine.Close()
		return nil, domain.WrapError(domain.ErrInvalidInput, "paper cache", errors.New("CACHE_BACKEND is none"))
	}
	return engine, nil
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
