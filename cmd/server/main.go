package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Build info (injected at build time via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "papersim",
	Short: "Paper-trading ledger and settlement service",
	Long: `papersim keeps simulated trading accounts: it opens and closes positions
against a price feed, keeps the cash ledger and transaction journal, charges
end-of-day fees on a simulated clock and stops an account when it reaches its
win or lose threshold.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newTokenCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
