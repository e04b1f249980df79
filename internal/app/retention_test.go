package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"bondkeeper/internal/storage"
)

type alertLog struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (a *alertLog) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	return alert, nil
}

func (a *alertLog) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (a *alertLog) DeleteAlertsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	a.cutoffs = append(a.cutoffs, olderThan)
	return a.deleted, a.err
}

func TestPruneAlertsUsesRetentionCutoff(t *testing.T) {
	store := &alertLog{deleted: 3}
	now := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)

	pruneAlerts(context.Background(), store, 72*time.Hour, now, zerolog.Nop())

	require.Equal(t, []time.Time{now.Add(-72 * time.Hour)}, store.cutoffs)
}

func TestPruneAlertsSurvivesStoreError(t *testing.T) {
	store := &alertLog{err: errors.New("db gone")}
	require.NotPanics(t, func() {
		pruneAlerts(context.Background(), store, time.Hour, time.Now(), zerolog.Nop())
	})
	require.Len(t, store.cutoffs, 1)
}

func TestPruneAlertsLoopPrunesImmediatelyAndStops(t *testing.T) {
	store := &alertLog{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pruneAlertsLoop(ctx, store, time.Hour, zerolog.Nop())
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, store.cutoffs, 1)
}

func TestPrintAlerts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printAlerts(&buf, nil))
	require.Equal(t, "no alerts found\n", buf.String())

	msg := "webhook returned 500\nretry later"
	buf.Reset()
	require.NoError(t, printAlerts(&buf, []storage.AlertRecord{
		{Kind: "emergency_mode", Status: "failed", Title: "EMERGENCY MODE ACTIVE", DedupKey: "emergency:0xabc", Error: &msg, CreatedAt: time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)},
		{Kind: "snapshot_recorded", Status: "sent", Title: "Snapshot Recorded", CreatedAt: time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)},
	}))
	out := buf.String()
	require.Contains(t, out, "emergency:0xabc")
	require.Contains(t, out, "webhook returned 500 retry later")
	require.Contains(t, out, "2025-10-17T00:00:00Z")
}
