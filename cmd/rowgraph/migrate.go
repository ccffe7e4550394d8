package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store/sqlstore"
)

var migratePrint bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables of the schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := schema.LoadFile(cfg.Import.SchemaPath)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}

		st, err := sqlstore.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.URL, sqlstore.PoolOptions{})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer st.Close()

		if migratePrint {
			for _, stmt := range st.DDL(reg) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt)
			}
			return nil
		}
		if err := st.CreateSchema(cmd.Context(), reg); err != nil {
			return err
		}
		slog.Info("tables created", "driver", st.Driver(), "entities", len(reg.Entities()))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePrint, "print", false, "Print the DDL instead of running it")
	rootCmd.AddCommand(migrateCmd)
}
