package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsad/cmd/cli/commands"
	"github.com/inferloop/tsad/pkg/constants"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   constants.AppName,
		Short: "Time series anomaly detection training and scoring",
		Long: `A command-line interface for training reconstruction models on multivariate
time series, resuming them from checkpoints and turning their reconstruction
error into per-timestep anomaly scores.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", constants.AppVersion, constants.GitCommit, constants.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.tsad/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewTrainCmd())
	rootCmd.AddCommand(commands.NewEvaluateCmd())
	rootCmd.AddCommand(commands.NewFamiliesCmd())
	rootCmd.AddCommand(commands.NewServeCmd())
	rootCmd.AddCommand(commands.NewConfigCmd())

	return rootCmd
}
