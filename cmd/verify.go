package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/topolens/verity/internal/fusion"
	"github.com/topolens/verity/internal/locks"
	"github.com/topolens/verity/internal/source"
)

var (
	verifyPolicyPath  string
	verifyWindowHours int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <source-resource-id> <target-resource-id>",
	Short: "Verify one dependency claim against all evidence sources",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		engine := env.Fusion
		if verifyPolicyPath != "" {
			fcfg, err := fusionConfig(verifyPolicyPath)
			if err != nil {
				return err
			}
			engine = fusion.NewEngine(env.Store, source.NewRegistryFromConfig(cfg.Sources), fcfg, locks.NewPerKey())
		}

		result, err := engine.VerifyWindow(ctx, args[0], args[1],
			time.Duration(verifyWindowHours)*time.Hour)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyPolicyPath, "policy", "", "fusion policy override file (YAML)")
	verifyCmd.Flags().IntVar(&verifyWindowHours, "window-hours", 0, "evidence lookback window in hours (default from config)")
	rootCmd.AddCommand(verifyCmd)
}
