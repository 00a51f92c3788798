package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/topolens/verity/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Dependency verification and prediction accuracy engine",
	Long:  "Cross-checks inferred cloud dependency claims against telemetry evidence, erodes unconfirmed confidence over time, and tracks how well failure predictions hold up against reality.",
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
