package cli

import (
	"github.com/spf13/cobra"

	"NewsDesk/internal/app"
)

var publishDryRun bool

func init() {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Run one posting cycle",
		RunE:  runPublish,
	}
	cmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "Render digests without sending them")

	RootCmd.AddCommand(cmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), app.Options{DryRun: publishDryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Publish(cmd.Context())
	if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
		err = perr
	}
	return err
}
