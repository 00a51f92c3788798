package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/topolens/verity/internal/model"
)

var (
	predictResource   string
	predictType       string
	predictProb       float64
	predictConfidence string
	validateObserved  string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Record, validate, and sweep failure predictions",
}

var predictRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new failure prediction",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		p := &model.Prediction{
			ResourceID:           predictResource,
			ResourceType:         predictType,
			PredictedProbability: predictProb,
			DeclaredConfidence:   model.DeclaredConfidence(predictConfidence),
		}
		if err := env.Ledger.Record(cmd.Context(), p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var predictValidateCmd = &cobra.Command{
	Use:   "validate <prediction-id>",
	Short: "Resolve a pending prediction against an observed outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Ledger.Validate(cmd.Context(), args[0], model.HealthState(validateObserved))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var predictSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve aged pending predictions against the health source",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Ledger.Sweep(cmd.Context(), env.Health)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	predictRecordCmd.Flags().StringVar(&predictResource, "resource", "", "resource id the prediction is about (required)")
	predictRecordCmd.Flags().StringVar(&predictType, "type", "", "resource type")
	predictRecordCmd.Flags().Float64Var(&predictProb, "probability", 0, "predicted failure probability in [0,1]")
	predictRecordCmd.Flags().StringVar(&predictConfidence, "confidence", "medium", "declared confidence: low, medium, or high")
	predictRecordCmd.MarkFlagRequired("resource") //nolint:errcheck

	predictValidateCmd.Flags().StringVar(&validateObserved, "observed", "", "observed state: failed or healthy (required)")
	predictValidateCmd.MarkFlagRequired("observed") //nolint:errcheck

	predictCmd.AddCommand(predictRecordCmd, predictValidateCmd, predictSweepCmd)
	rootCmd.AddCommand(predictCmd)
}
