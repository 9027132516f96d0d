package commands

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/pkg/constants"
)

type TrainOptions struct {
	Model        string
	Dataset      string
	Epochs       int
	Retrain      bool
	Less         bool
	Window       int
	LearningRate float64
	BatchSize    int
	OutputFile   string
	Format       string
}

func NewTrainCmd() *cobra.Command {
	opts := &TrainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model family on a dataset and score its test series",
		Long: `Train resumes from the stored checkpoint of the model and dataset unless
--retrain is given, runs the requested number of epochs, checkpoints after each
one and finally scores the training and test series.`,
		Example: `  # Five epochs of TranAD on SMD
  tsad train --model TranAD --dataset SMD --epochs 5

  # Start over, training on the middle 20% of the series only
  tsad train --model USAD --dataset SMAP --retrain --less

  # Generated data, scores written as CSV
  tsad train --dataset synthetic --output scores.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, false)
		},
	}

	addJobFlags(cmd, opts)
	cmd.Flags().IntVarP(&opts.Epochs, "epochs", "e", constants.DefaultEpochs, "Number of epochs to train")
	cmd.Flags().BoolVar(&opts.Retrain, "retrain", false, "Ignore any stored checkpoint and train from scratch")

	return cmd
}

func addJobFlags(cmd *cobra.Command, opts *TrainOptions) {
	cmd.Flags().StringVarP(&opts.Model, "model", "m", constants.DefaultFamily, "Model family")
	cmd.Flags().StringVarP(&opts.Dataset, "dataset", "d", "", "Dataset name, or \"synthetic\" (required)")
	cmd.Flags().BoolVar(&opts.Less, "less", false, "Train on the middle 20% of the training series")
	cmd.Flags().IntVar(&opts.Window, "window", 0, "Window length (0 for the family default)")
	cmd.Flags().Float64Var(&opts.LearningRate, "lr", 0, "Learning rate (0 for the family default)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Mini-batch size of the two-phase family (0 for the default)")
	cmd.Flags().StringVarP(&opts.OutputFile, "output", "o", "", "Write per-timestep scores to this file (- for stdout)")
	cmd.Flags().StringVar(&opts.Format, "format", constants.FormatCSV, "Score output format (csv, json)")

	cmd.MarkFlagRequired("dataset")
}

func runJob(cmd *cobra.Command, opts *TrainOptions, testOnly bool) error {
	opts.Format = strings.ToLower(opts.Format)
	if !constants.IsOutputFormat(opts.Format) {
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, opts.Less, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	runConfig := cfg.RunConfig(opts.Model, opts.Dataset)
	runConfig.Epochs = opts.Epochs
	runConfig.Retrain = opts.Retrain
	runConfig.TestOnly = testOnly

	result, err := rt.pipeline.Run(ctx, engine.Job{
		Config:       runConfig,
		Window:       opts.Window,
		LearningRate: opts.LearningRate,
		BatchSize:    opts.BatchSize,
	})
	if err != nil {
		return err
	}

	var summaryOut io.Writer = cmd.OutOrStdout()
	if opts.OutputFile == "-" {
		summaryOut = cmd.ErrOrStderr()
	}
	printSummary(summaryOut, result)

	if opts.OutputFile == "" {
		return nil
	}
	w, closeFn, err := openOutput(cmd, opts.OutputFile)
	if err != nil {
		return err
	}
	if err := writeResult(w, opts.Format, result); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}
