package app

import (
	"context"
	"errors"
	"time"

	"bondkeeper/internal/service"
)

// NotifyTest 通过已配置的 webhook 发送一条测试消息。
func (a *App) NotifyTest(ctx context.Context) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting.discord.webhook_url 未配置")
	}

	keeper := ""
	if bond, err := a.newChain(); err == nil {
		keeper = bond.KeeperAddress().Hex()
		bond.Close()
	}

	note := service.CatalogFromConfig(a.Config).Test(keeper, a.Config.Chain.ContractAddress, time.Now().UTC())
	// unlike Dispatcher.Send, delivery errors are returned
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	a.Logger.Info().Msg("test notification sent")
	return nil
}
