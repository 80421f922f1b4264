package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/flowbot/internal/config"
	"github.com/kailas-cloud/flowbot/internal/version"
)

var rootFlags struct {
	env string
}

var rootCmd = &cobra.Command{
	Use:   "flowbot",
	Short: "Calibrated, retrieval-grounded answers about model predictions",
	Long: "flowbot calibrates predictor outputs, retrieves supporting documents\n" +
		"and generates answers that flag low confidence and out-of-distribution inputs.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.env, "env", config.GetEnv(),
		"Config environment, loads config/<env>.yaml (default: $ENV or local)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(fitCmd)
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.Date)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
