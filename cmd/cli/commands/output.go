package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/inferloop/tsad/internal/engine"
	"github.com/inferloop/tsad/internal/scoring"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/models"
)

type scoreRow struct {
	Timestep int     `json:"timestep"`
	Score    float64 `json:"score"`
	Label    bool    `json:"label"`
}

type report struct {
	Run     models.RunInfo       `json:"run"`
	Epoch   int                  `json:"epoch"`
	Summary scoring.Summary      `json:"summary"`
	History []models.EpochRecord `json:"history"`
	Scores  []scoreRow           `json:"scores"`
}

// writeResult writes one row per test timestep: the channel-averaged score
// and the channel-OR label
func writeResult(w io.Writer, format string, result *engine.Result) error {
	switch format {
	case constants.FormatCSV:
		return writeCSV(w, result)
	case constants.FormatJSON:
		return writeJSON(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeCSV(w io.Writer, result *engine.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestep", "score", "label"}); err != nil {
		return err
	}
	for i, s := range result.Scores {
		label := "0"
		if i < len(result.Labels) && result.Labels[i] {
			label = "1"
		}
		if err := cw.Write([]string{strconv.Itoa(i), strconv.FormatFloat(s, 'g', -1, 64), label}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, result *engine.Result) error {
	rows := make([]scoreRow, len(result.Scores))
	for i, s := range result.Scores {
		rows[i] = scoreRow{Timestep: i, Score: s, Label: i < len(result.Labels) && result.Labels[i]}
	}
	history := result.History
	if history == nil {
		history = []models.EpochRecord{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		Run:     result.Run,
		Epoch:   result.Epoch,
		Summary: result.Summary,
		History: history,
		Scores:  rows,
	})
}

func printSummary(w io.Writer, result *engine.Result) {
	fmt.Fprintf(w, "\nRun %s (%s on %s)\n", result.Run.RunID, result.Run.Family, result.Run.Dataset)
	fmt.Fprintln(w, "=================")
	fmt.Fprintf(w, "- Last Epoch: %d\n", result.Epoch)
	fmt.Fprintf(w, "- Epochs This Run: %d\n", len(result.Trained))
	if n := len(result.History); n > 0 {
		last := result.History[n-1]
		fmt.Fprintf(w, "- Final Loss: %.6f", last.Loss1)
		if last.HasLoss2 {
			fmt.Fprintf(w, " / %.6f", last.Loss2)
		}
		fmt.Fprintf(w, "\n- Learning Rate: %g\n", last.LearningRate)
	}
	fmt.Fprintf(w, "- Timesteps Scored: %d\n", result.Summary.Count)
	fmt.Fprintf(w, "- Max Score: %.6f at %d\n", result.Summary.Max, result.Summary.ArgMax)
	fmt.Fprintf(w, "- Mean Score: %.6f (std %.6f)\n", result.Summary.Mean, result.Summary.StdDev)
	fmt.Fprintf(w, "- Duration: %s\n", result.Duration.Round(time.Millisecond))
}
