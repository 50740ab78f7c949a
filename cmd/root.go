package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "quote-cli",
	Short: "Repair quote sourcing, caching and selection",
	Long:  "Sources parts prices and labor hours from vendor storefronts, the partner API, the shop catalog and vendor phone calls, then recommends the quote to act on.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
