package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llmc-dev/codeindex"
)

var requireEnrichment bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "project spans and enrichments into the schema graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		var opts []codeindex.GraphOption
		if requireEnrichment {
			opts = append(opts, codeindex.WithRequireEnrichment())
		}
		if err := eng.BuildGraph(context.Background(), opts...); err != nil {
			return err
		}
		fmt.Println("graph built")
		return nil
	},
}

func init() {
	graphCmd.Flags().BoolVar(&requireEnrichment, "require-enrichment", false, "fail if the index has zero enrichments instead of emitting an AST-only graph")
}
