// Package main is the entry point for liro, the Lichess rating bot for Discord.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version can be set during build with -ldflags
var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "liro",
		Short: "Link Discord members to Lichess and assign rating roles",
		Long: `liro is a Discord bot that links members to their Lichess accounts
through an OAuth flow and keeps a guild role matching their rating tier.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "liro version %s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newAdminCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
