package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/codeindex"
	"github.com/llmc-dev/codeindex/internal/model"
	"github.com/llmc-dev/codeindex/internal/retrieval"
)

var queryLimit int

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "hybrid search: FTS + reranker + graph stitch, or a local grep fallback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		envelope := eng.Search(context.Background(), args[0], codeindex.WithLimit(queryLimit))
		return printEnvelope(envelope)
	},
}

var whereUsedCmd = &cobra.Command{
	Use:   "where-used [symbol]",
	Short: "list incoming call/import/read/write/use edges for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		envelope := eng.WhereUsed(context.Background(), args[0], codeindex.WithLimit(queryLimit))
		return printEnvelope(envelope)
	},
}

var lineageDirection string

var lineageCmd = &cobra.Command{
	Use:   "lineage [symbol]",
	Short: "walk upstream or downstream graph neighbors of a symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var dir retrieval.LineageDirection
		switch lineageDirection {
		case "upstream":
			dir = retrieval.Upstream
		case "downstream":
			dir = retrieval.Downstream
		default:
			return fmt.Errorf("--direction must be \"upstream\" or \"downstream\", got %q", lineageDirection)
		}

		envelope := eng.Lineage(context.Background(), args[0], dir, codeindex.WithLimit(queryLimit))
		return printEnvelope(envelope)
	},
}

func init() {
	searchCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum number of results")
	whereUsedCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum number of results")
	lineageCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum number of results")
	lineageCmd.Flags().StringVar(&lineageDirection, "direction", "downstream", "upstream or downstream")
}

func printEnvelope(envelope model.Envelope) error {
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
