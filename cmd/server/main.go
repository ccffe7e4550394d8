package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/rowgraph/internal/config"
	"github.com/JonMunkholm/rowgraph/internal/core"
	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store/sqlstore"
	"github.com/JonMunkholm/rowgraph/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"api_key_required", cfg.Security.RequireAPIKey,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	reg, err := schema.LoadFile(cfg.Import.SchemaPath)
	if err != nil {
		slog.Error("failed to load schema", "path", cfg.Import.SchemaPath, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL, sqlstore.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to database", "driver", st.Driver())

	if cfg.Database.AutoMigrate {
		if err := st.CreateSchema(ctx, reg); err != nil {
			slog.Error("failed to create tables", "error", err)
			os.Exit(1)
		}
		slog.Info("tables created", "entities", len(reg.Entities()))
	}

	templates := core.NewTemplateRegistry()
	if cfg.Import.TemplateDir != "" {
		if err := templates.LoadDir(cfg.Import.TemplateDir); err != nil {
			slog.Error("failed to load templates", "dir", cfg.Import.TemplateDir, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("templates registered",
		"count", templates.Count(),
		"entities", len(reg.Entities()),
	)
	for _, name := range templates.Names() {
		slog.Debug("template", "entity", name)
	}

	service := core.NewService(st, reg, templates, core.ServiceConfig{
		CommitEvery:   cfg.Import.CommitEvery,
		Timeout:       cfg.Import.Timeout,
		InnerJoins:    cfg.Import.InnerJoins,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
	})

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
