package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/tabular"
)

var (
	suggestHops    int
	suggestHasMany bool
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <entity>",
	Short: "Print a suggested template for an entity as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			tmpl, err := a.service.Suggest(args[0], suggestHops, suggestHasMany)
			if err != nil {
				return userError(err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(tmpl); err != nil {
				return err
			}
			return enc.Close()
		})
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List entities with their import headers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENTITY\tTABLE\tTEMPLATE\tHEADERS")
			for _, info := range a.service.Entities() {
				source := "suggested"
				if info.HasTemplate {
					source = "registered"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.Table, source, strings.Join(info.Columns, ", "))
			}
			return tw.Flush()
		})
	},
}

func init() {
	suggestCmd.Flags().IntVar(&suggestHops, "hops", 0, "Association hops to follow; -1 for no limit")
	suggestCmd.Flags().BoolVar(&suggestHasMany, "has-many", false, "Also follow has-many associations")

	rootCmd.AddCommand(suggestCmd, entitiesCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match <file.csv>",
	Short: "Rank the entities whose templates fit the header of a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		header, err := tabular.NewReader(f, 0).Read()
		if errors.Is(err, io.EOF) {
			err = core.ErrEmptySource
		}
		if err != nil {
			return userError(err)
		}

		return withApp(cmd, func(a *app) error {
			matches := a.service.Match(header)
			if len(matches) == 0 {
				return fmt.Errorf("no entity matches the header of %s", args[0])
			}
			for _, m := range matches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.0f%%\n", m.Entity, m.Score*100)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
}
