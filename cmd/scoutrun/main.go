package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/josepht96/scoutrun/internal/config"
	"github.com/josepht96/scoutrun/internal/storage"
)

// Version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "scoutrun",
	Short:        "API test collection runner",
	Long:         "scoutrun executes stored HTTP request collections, evaluates their assertions and records every run.",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(schemaCmd)
}

// newLogger returns a JSON logger at the configured level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openStorage connects to the configured database and applies migrations.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Storage, error) {
	logger.Info("connecting to database", "driver", cfg.DatabaseDriver, "url", cfg.MaskedDatabaseURL())
	store, err := storage.NewStorage(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.RunMigrations(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg, os.Stderr)
		store, err := openStorage(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("migrations applied")
		return nil
	},
}
