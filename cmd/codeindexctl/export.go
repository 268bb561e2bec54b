package main

import (
	"os"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "write a portable tarball snapshot of the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer f.Close()

		return eng.Export(f)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutput, "out", "index-export.tar.gz", "output tarball path")
}
