// Command codeindexctl drives a single repository's index: discovery,
// enrichment, schema-graph building, health reporting, and retrieval
// queries, all against the same on-disk state a long-running server would
// use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/codeindex"
	"github.com/llmc-dev/codeindex/internal/config"
	"github.com/llmc-dev/codeindex/internal/extract"
)

var (
	repoRoot   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "codeindexctl",
	Short: "codeindexctl indexes, enriches, and queries a code repository",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", ".", "repository root to operate on")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON config overlay")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(whereUsedCmd)
	rootCmd.AddCommand(lineageCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds a Config from --repo plus an optional --config overlay.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.RepoRoot = repoRoot
	if configPath != "" {
		if err := config.LoadOverlay(&cfg, configPath); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// newEngine wires the top-level Engine against the default single-language
// Go extractor; a deployment indexing other languages supplies its own
// codeindex.New call with a different indexer.Extractor.
func newEngine() (codeindex.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return codeindex.New(cfg, extract.GoExtractor{}, extract.LanguageFor)
}
