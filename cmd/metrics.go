package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var metricsDays int

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute prediction accuracy metrics over a trailing window",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		m, err := env.Accuracy.LastDays(cmd.Context(), metricsDays)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run calibration analysis and print recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Calibration.Analyze(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()
		return env.Store.Migrate(cmd.Context())
	},
}

func init() {
	metricsCmd.Flags().IntVar(&metricsDays, "days", 30, "trailing window in days")
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(migrateCmd)
}
