package cli

import (
	"github.com/spf13/cobra"

	"NewsDesk/internal/app"
)

var trainForce bool

func init() {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Collect training data and retrain the local predictor",
		RunE:  runTrain,
	}
	cmd.Flags().BoolVar(&trainForce, "force", false, "Train even when not due or disabled")

	RootCmd.AddCommand(cmd)
}

type trainOutput struct {
	Ran       bool               `json:"ran"`
	Skipped   string             `json:"skipped,omitempty"`
	Samples   int                `json:"samples"`
	Replaced  bool               `json:"replaced"`
	Reason    string             `json:"reason,omitempty"`
	Version   int                `json:"version,omitempty"`
	Candidate map[string]float64 `json:"candidate_f1,omitempty"`
}

func runTrain(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Train(cmd.Context(), trainForce)
	out := trainOutput{
		Ran:       report.Ran,
		Skipped:   report.Skipped,
		Samples:   report.Collect.Total(),
		Replaced:  report.Train.Replaced,
		Reason:    report.Train.Reason,
		Version:   report.Train.Version,
		Candidate: report.Train.CandidateF1,
	}
	if perr := printJSON(cmd.OutOrStdout(), out); perr != nil && err == nil {
		err = perr
	}
	return err
}
