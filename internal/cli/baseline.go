package cli

import (
	"github.com/spf13/cobra"

	"NewsDesk/internal/app"
)

var (
	baselineOut    string
	baselineReport string
)

func init() {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Build the baseline training dataset from stored items and seed datasets",
		RunE:  runBaseline,
	}
	cmd.Flags().StringVar(&baselineOut, "out", "", "Dataset output path (default: baseline.output)")
	cmd.Flags().StringVar(&baselineReport, "report", "", "Report output path (default: baseline.report)")

	RootCmd.AddCommand(cmd)
}

func runBaseline(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.BuildBaseline(cmd.Context(), baselineOut, baselineReport)
	if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
		err = perr
	}
	return err
}
