// Command rowgraph imports CSV files into a relational graph of records and
// exports them back, without the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/rowgraph/internal/config"
	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store/sqlstore"
)

var (
	envFile     string
	dbURL       string
	dbDriver    string
	schemaPath  string
	templateDir string
	logLevel    string
)

// flagEnv maps persistent flags onto the environment variables they override.
var flagEnv = map[string]string{
	"db":        "DATABASE_URL",
	"driver":    "DB_DRIVER",
	"schema":    "IMPORT_SCHEMA_PATH",
	"templates": "IMPORT_TEMPLATE_DIR",
	"log-level": "LOG_LEVEL",
}

var rootCmd = &cobra.Command{
	Use:           "rowgraph",
	Short:         "Import and export CSV files as graphs of related records",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for flag, env := range flagEnv {
			if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
				if err := os.Setenv(env, f.Value.String()); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", "", "Read settings from this .env file")
	pf.StringVar(&dbURL, "db", "", "Database URL or SQLite path (DATABASE_URL)")
	pf.StringVar(&dbDriver, "driver", "", "Database driver: postgres or sqlite (DB_DRIVER)")
	pf.StringVarP(&schemaPath, "schema", "s", "", "Schema YAML file (IMPORT_SCHEMA_PATH)")
	pf.StringVarP(&templateDir, "templates", "t", "", "Directory of entity templates (IMPORT_TEMPLATE_DIR)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (LOG_LEVEL)")
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	reg     *schema.Registry
	st      *sqlstore.Store
	service *core.Service
}

func loadConfig() (*config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	} else if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so exported rows on stdout stay clean.
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	reg, err := schema.LoadFile(cfg.Import.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	st, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL, sqlstore.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := st.CreateSchema(ctx, reg); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}

	templates := core.NewTemplateRegistry()
	if cfg.Import.TemplateDir != "" {
		if err := templates.LoadDir(cfg.Import.TemplateDir); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	service := core.NewService(st, reg, templates, core.ServiceConfig{
		CommitEvery:   cfg.Import.CommitEvery,
		Timeout:       cfg.Import.Timeout,
		InnerJoins:    cfg.Import.InnerJoins,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
	})
	return &app{cfg: cfg, reg: reg, st: st, service: service}, nil
}

func (a *app) Close() error { return a.st.Close() }

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// userError prefixes err with its support code.
func userError(err error) error {
	msg := core.MapError(err)
	return fmt.Errorf("[%s] %s: %w", msg.Code, msg.Message, err)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
