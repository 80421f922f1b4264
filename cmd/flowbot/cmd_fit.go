package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	domcal "github.com/kailas-cloud/flowbot/internal/domain/calibration"
	calibrationuc "github.com/kailas-cloud/flowbot/internal/usecase/calibration"
)

var fitFlags struct {
	method string
}

var fitCmd = &cobra.Command{
	Use:   "fit <model> <file.jsonl>",
	Short: "Fit calibration for a registered model from labelled samples",
	Long: `Fit reads one {"raw_scores":[...],"label":N} object per line and publishes
a new calibration version for the model. The model must already be registered.`,
	Args: cobra.ExactArgs(2),
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&fitFlags.method, "method", "",
		"Calibration method (temperature, isotonic); empty keeps the current one")
}

func runFit(cmd *cobra.Command, args []string) error {
	samples, err := readJSONLFile[calibrationuc.Sample](args[1])
	if err != nil {
		return err
	}

	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	params, err := a.calibration.Fit(cmd.Context(), args[0], samples, domcal.Method(fitFlags.method))
	if err != nil {
		return fmt.Errorf("fit %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(params) //nolint:wrapcheck // CLI output
}
