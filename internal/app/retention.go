package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bondkeeper/internal/storage"
)

const pruneInterval = 24 * time.Hour

// pruneAlertsLoop trims the alerts audit table now and once a day after.
func pruneAlertsLoop(ctx context.Context, store storage.AlertStore, retention time.Duration, logger zerolog.Logger) error {
	pruneAlerts(ctx, store, retention, time.Now().UTC(), logger)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			pruneAlerts(ctx, store, retention, now.UTC(), logger)
		}
	}
}

// pruneAlerts failures are logged only; the audit table is not worth stopping the keeper for.
func pruneAlerts(ctx context.Context, store storage.AlertStore, retention time.Duration, now time.Time, logger zerolog.Logger) {
	cutoff := now.Add(-retention)
	deleted, err := store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		logger.Warn().Err(err).Time("cutoff", cutoff).Msg("清理告警审计失败")
		return
	}
	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("已清理过期告警审计")
	}
}
