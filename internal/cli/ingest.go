package cli

import (
	"github.com/spf13/cobra"

	"NewsDesk/internal/app"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch and score today's items once",
		RunE:  runIngest,
	}

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Ingest(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), report)
}
