package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/josepht96/scoutrun/internal/auth"
	"github.com/josepht96/scoutrun/internal/config"
	"github.com/josepht96/scoutrun/internal/transform"
	"github.com/josepht96/scoutrun/internal/watcher"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import [directory]",
	Short: "Import environment and collection definition files",
	Long:  "Upserts every kind: environment and kind: collection YAML/JSON file found under directory (default: collections_dir).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	dir := cfg.CollectionsDir
	if len(args) == 1 {
		dir = args[0]
	}

	store, err := openStorage(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := watcher.NewCollectionWatcher(dir, logger).Import(cmd.Context(), store)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ imported %d environment(s), %d collection(s), %d request(s)\n",
		summary.Environments, summary.Collections, summary.Requests)
	for _, path := range summary.Skipped {
		fmt.Fprintf(cmd.ErrOrStderr(), "  ⚠ skipped %s\n", path)
	}
	return nil
}

// --- token ---

var (
	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is not configured")
		}
		if tokenSubject == "" {
			return fmt.Errorf("--subject is required")
		}
		token, err := auth.NewJWTIdentity(cfg.Auth.JWTSecret).Issue(tokenSubject, tokenScopes, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of request body_transforms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := transform.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Caller identity recorded as triggered_by")
	tokenCmd.Flags().StringArrayVar(&tokenScopes, "scope", auth.AllCapabilities, "Capability to grant, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
