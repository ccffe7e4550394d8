package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

var (
	exportOut   string
	exportBlank bool
	exportInner bool
)

var exportCmd = &cobra.Command{
	Use:   "export <entity>",
	Short: "Export an entity and its associations as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportInner {
			if err := os.Setenv("EXPORT_INNER_JOINS", "true"); err != nil {
				return err
			}
		}
		return withApp(cmd, func(a *app) error {
			rows, err := a.service.Export(cmd.Context(), args[0], !exportBlank)
			if err != nil {
				return userError(err)
			}

			if exportOut == "" || exportOut == "-" {
				return tabular.Write(cmd.OutOrStdout(), rows)
			}
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			if err := tabular.Write(f, rows); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().BoolVar(&exportBlank, "blank", false, "Write only the header row")
	exportCmd.Flags().BoolVar(&exportInner, "inner", false, "Drop rows with missing associations (EXPORT_INNER_JOINS)")

	rootCmd.AddCommand(exportCmd)
}
