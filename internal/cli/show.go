package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bondkeeper/internal/app"
)

var (
	showLimit  int
	showRuns   bool
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent snapshots, keeper runs or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showRuns && showAlerts {
			return fmt.Errorf("--runs and --alerts are mutually exclusive")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Runs:   showRuns,
			Alerts: showAlerts,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showRuns, "runs", false, "Show keeper run history instead of snapshots")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show the alert audit log instead of snapshots")
}
