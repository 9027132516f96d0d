package commands

import (
	"github.com/spf13/cobra"
)

func NewEvaluateCmd() *cobra.Command {
	opts := &TrainOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a dataset with the stored model without training",
		Long: `Evaluate loads the stored checkpoint of the model and dataset and scores the
training and test series. Without a checkpoint the freshly initialised model is
scored. The model is never changed.`,
		Example: `  # Score SMD with the stored TranAD model
  tsad evaluate --model TranAD --dataset SMD

  # Scores and labels as JSON on stdout
  tsad evaluate --model USAD --dataset SMAP --format json --output -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, opts, true)
		},
	}

	addJobFlags(cmd, opts)

	return cmd
}
