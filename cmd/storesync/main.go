// Package main provides the storesync binary: the sync engine, its admin API
// and the operator commands that act on the same database.
package main

// @title           storesync admin API
// @version         1.0
// @description     Tenant registry, on-demand sync triggers and sync status for the storesync engine.

// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

//go:generate swag init -g main.go -d .,../../internal/adapters/driving/http -o ../../docs

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	configPath string
	outputFlag string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storesync",
		Short: "Incremental sync engine for commerce store data",
		Long: `storesync keeps a local copy of customers, products and orders for every
registered store. Each (tenant, entity) pair is synced by at most one runner
at a time, resumes from its last checkpoint and is paused after repeated
failures until an operator resets it.

Configuration is read from --config (YAML) and STORESYNC_* environment
variables, e.g. STORESYNC_DATABASE_URL.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newTenantsCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newHashPasswordCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
