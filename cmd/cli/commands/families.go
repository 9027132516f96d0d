package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/tsad/internal/networks"
	"github.com/inferloop/tsad/internal/strategy"
	"github.com/inferloop/tsad/pkg/constants"
)

type familyInfo struct {
	Name         string  `json:"name"`
	Layout       string  `json:"layout"`
	Window       int     `json:"window"`
	LearningRate float64 `json:"learning_rate"`
	Default      bool    `json:"default"`
}

func NewFamiliesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "families",
		Short: "List the supported model families and their defaults",
		Example: `  tsad families
  tsad families --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := describeFamilies()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if format == constants.FormatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FAMILY\tLAYOUT\tWINDOW\tLR\t")
			for _, info := range infos {
				name := info.Name
				if info.Default {
					name += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t\n", name, info.Layout, info.Window, info.LearningRate)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")

	return cmd
}

// describeFamilies instantiates a one-channel model of every family to
// report its defaults
func describeFamilies() ([]familyInfo, error) {
	factory := networks.NewFactory(nil)
	infos := make([]familyInfo, 0, len(factory.Families()))
	for _, family := range factory.Families() {
		net, err := factory.Create(networks.Config{Family: family, Features: 1, Seed: constants.DefaultSeed})
		if err != nil {
			return nil, err
		}
		strat, err := strategy.New(net, strategy.DefaultConfig())
		if err != nil {
			return nil, err
		}
		infos = append(infos, familyInfo{
			Name:         family,
			Layout:       string(strat.Layout()),
			Window:       net.Window(),
			LearningRate: net.LearningRate(),
			Default:      family == constants.DefaultFamily,
		})
	}
	return infos, nil
}
