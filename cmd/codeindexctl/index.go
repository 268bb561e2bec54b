package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "discover and differentially re-index the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		stats, err := eng.Index(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("files=%d spans=%d skipped=%d unchanged=%d deleted=%d duration=%s\n",
			stats.Files, stats.Spans, stats.Skipped, stats.Unchanged, stats.Deleted, stats.Duration)
		return nil
	},
}
