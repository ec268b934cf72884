// @title           Threat Exchange API
// @version         1.0.0
// @description     Multi-tenant exchange for AI-enabled security incidents. Organizations submit incidents, which are correlated into campaigns by attack vector; campaign listings are redacted until enough organizations contribute.
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Organization API key: 'Bearer {api_key}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and pprof are served on a dedicated side-channel port (default: 9090), not by the Gin router. Configure it with TXCH_TELEMETRY_METRICS_PROMETHEUS_PORT.

// Package main is the entry point for the threat exchange server binary. Subcommands:
// serve (default), migrate up|down, provision-org and version.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/threat-exchange/threat-exchange/internal/api"
	"github.com/threat-exchange/threat-exchange/internal/config"
	"github.com/threat-exchange/threat-exchange/internal/db"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "server",
		Short:        "Threat exchange API server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Config file path (env CONFIG_PATH)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
		return cfg, nil
	}

	serve := newServeCmd(loadConfig, &configPath)
	root.AddCommand(
		serve,
		newMigrateCmd(loadConfig),
		newProvisionCmd(loadConfig),
		newVersionCmd(),
	)
	// bare invocation serves
	root.RunE = serve.RunE
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Threat Exchange %s\n", api.Version)
		},
	}
}

func newMigrateCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrations(cmd, cfg, args[0])
		},
	}
}

func runMigrations(cmd *cobra.Command, cfg *config.Config, direction string) error {
	database, err := db.Connect(cmd.Context(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrations %s complete. Current version: %d (dirty: %v)\n", direction, version, dirty)
	return nil
}
