package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var enrichTotal int

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "drain pending spans from the work queue through the enrichment cascade",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		processed, err := eng.Enrich(context.Background(), enrichTotal)
		if err != nil {
			return err
		}
		fmt.Printf("processed=%d\n", processed)
		return nil
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichTotal, "total", 100, "maximum number of spans to process")
}
