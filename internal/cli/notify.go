package cli

import (
	"github.com/spf13/cobra"
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "发送一条测试通知到已配置的 webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().NotifyTest(cmd.Context())
	},
}
