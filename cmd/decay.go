package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/topolens/verity/internal/decay"
)

var (
	decayRate          float64
	decayDaysThreshold int
	staleLimit         int
	staleMaxAgeDays    int
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one confidence decay pass over unconfirmed claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Decay.ApplyPolicy(cmd.Context(), decay.Options{
			Rate:          decayRate,
			DaysThreshold: decayDaysThreshold,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List claims whose last confirmation is older than the stale window",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		claims, err := env.Decay.ListStale(cmd.Context(), staleMaxAgeDays, staleLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func init() {
	decayCmd.Flags().Float64Var(&decayRate, "rate", 0, "decay rate for this pass (default from config)")
	decayCmd.Flags().IntVar(&decayDaysThreshold, "days-threshold", 0, "unconfirmed days before a claim decays (default from config)")
	staleCmd.Flags().IntVar(&staleLimit, "limit", 100, "maximum claims to list")
	staleCmd.Flags().IntVar(&staleMaxAgeDays, "max-age-days", 0, "age cutoff in days (default from config)")
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(staleCmd)
}
