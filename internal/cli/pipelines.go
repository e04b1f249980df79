package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Record one snapshot now and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Snapshot(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("snapshot not recorded: %s", res.Reason)
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the health checks once and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Monitor(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("monitor run failed: %s", res.Reason)
		}
		return nil
	},
}
