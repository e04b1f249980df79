package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bondkeeper/internal/alerting"
	"bondkeeper/internal/chain"
)

func TestClassifyPending(t *testing.T) {
	tests := []struct {
		pending int64
		want    Severity
	}{
		{-2, SeverityUpToDate},
		{0, SeverityUpToDate},
		{1, SeverityInfo},
		{2, SeverityWarning},
		{3, SeverityCritical},
		{10, SeverityCritical},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ClassifyPending(tt.pending, 2, 3), "pending=%d", tt.pending)
	}

	rank := map[Severity]int{SeverityUpToDate: 0, SeverityInfo: 1, SeverityWarning: 2, SeverityCritical: 3}
	prev := rank[ClassifyPending(-5, 2, 3)]
	for p := int64(-4); p <= 20; p++ {
		cur := rank[ClassifyPending(p, 2, 3)]
		require.GreaterOrEqual(t, cur, prev, "severity must not drop at pending=%d", p)
		prev = cur
	}
}

func TestMonitorMissedDistributions(t *testing.T) {
	tests := []struct {
		name         string
		recordCount  int64
		last         int64
		wantSeverity Severity
		wantKinds    []string
	}{
		{"critical", 8, 3, SeverityCritical, []string{alerting.KindMissedCritical}},
		{"critical at threshold", 6, 3, SeverityCritical, []string{alerting.KindMissedCritical}},
		{"warning", 5, 3, SeverityWarning, []string{alerting.KindMissedWarning}},
		{"one pending", 4, 3, SeverityInfo, []string{}},
		{"up to date", 3, 3, SeverityUpToDate, []string{}},
		{"negative", 2, 3, SeverityUpToDate, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeChain()
			fc.info.RecordCount = big.NewInt(tt.recordCount)
			fc.lastDistributed = big.NewInt(tt.last)
			svc, rec := newTestService(fc, testOptions(), nil)

			res := svc.Monitor(context.Background())

			require.True(t, res.Success, res.Error)
			require.Equal(t, tt.recordCount-tt.last, res.Pending)
			require.Equal(t, tt.wantSeverity, res.Severity)
			require.Equal(t, tt.wantKinds, rec.kinds())
		})
	}
}

func TestMonitorEmergencyModeNotifiesEveryRun(t *testing.T) {
	fc := newFakeChain()
	fc.info.EmergencyMode = true
	svc, rec := newTestService(fc, testOptions(), nil)

	first := svc.Monitor(context.Background())
	second := svc.Monitor(context.Background())

	require.True(t, first.EmergencyMode)
	require.Equal(t, 2, rec.count(alerting.KindEmergencyMode))
	for _, n := range rec.notes {
		require.Equal(t, alerting.ColorRed, n.Color)
	}

	// same chain state, same classification
	first.RunID, second.RunID = "", ""
	require.Equal(t, first, second)
}

func TestMonitorEmergencyModeDedupUntilCleared(t *testing.T) {
	fc := newFakeChain()
	fc.info.EmergencyMode = true
	dedup := &memoryDedup{keys: map[string]bool{}}
	svc, rec := newTestService(fc, testOptions(), nil, alerting.WithDeduplicator(dedup))
	ctx := context.Background()

	svc.Monitor(ctx)
	svc.Monitor(ctx)
	require.Equal(t, 1, rec.count(alerting.KindEmergencyMode))

	fc.info.EmergencyMode = false
	svc.Monitor(ctx)
	require.Empty(t, dedup.keys)

	fc.info.EmergencyMode = true
	svc.Monitor(ctx)
	require.Equal(t, 2, rec.count(alerting.KindEmergencyMode))
}

func TestMonitorLowBalance(t *testing.T) {
	fc := newFakeChain()
	fc.balance = native("0.999999999999999999")
	svc, rec := newTestService(fc, testOptions(), nil)

	res := svc.Monitor(context.Background())

	require.True(t, res.Success)
	require.True(t, res.LowBalance)
	require.Equal(t, []string{alerting.KindLowBalance}, rec.kinds())
	require.Equal(t, alerting.ColorOrange, rec.notes[0].Color)
}

func TestMonitorEmergencyEvents(t *testing.T) {
	fc := newFakeChain()
	blockTime := time.Date(2025, 5, 31, 23, 50, 0, 0, time.UTC)
	fc.blockTimes[4800] = blockTime
	fc.events[chain.EventEmergencyRedeemEnabled] = []chain.Event{
		{Name: chain.EventEmergencyRedeemEnabled, BlockNumber: 4800, TxHash: common.HexToHash("0x01"), LogIndex: 0},
		{Name: chain.EventEmergencyRedeemEnabled, BlockNumber: 4900, TxHash: common.HexToHash("0x02"), LogIndex: 3,
			Fields: map[string]any{"timestamp": big.NewInt(blockTime.Add(time.Minute).Unix())}},
	}
	fc.events[chain.EventSnapshotRecorded] = []chain.Event{{Name: chain.EventSnapshotRecorded}}
	fc.events[chain.EventCouponDistributed] = []chain.Event{{}, {}}
	svc, rec := newTestService(fc, testOptions(), nil)

	res := svc.Monitor(context.Background())

	require.True(t, res.Success, res.Error)
	require.Equal(t, 2, res.EmergencyEvents)
	require.Equal(t, 1, res.SnapshotEvents)
	require.Equal(t, 2, res.CouponEvents)
	require.Equal(t, 2, rec.count(alerting.KindEmergencyActivated))
	require.Equal(t, "2025-05-31T23:50:00.000Z", rec.notes[0].Fields[1].Value)
	require.Equal(t, "2025-05-31T23:51:00.000Z", rec.notes[1].Fields[1].Value)
	require.Equal(t, []string{
		chain.EventEmergencyRedeemEnabled,
		chain.EventSnapshotRecorded,
		chain.EventCouponDistributed,
	}, fc.queried)
}

func TestMonitorEventQueryFailureIsIsolated(t *testing.T) {
	fc := newFakeChain()
	fc.eventErrs[chain.EventEmergencyRedeemEnabled] = errors.New("range too large")
	fc.events[chain.EventCouponDistributed] = []chain.Event{{}}
	svc, rec := newTestService(fc, testOptions(), nil)

	res := svc.Monitor(context.Background())

	require.True(t, res.Success)
	require.Equal(t, 1, res.CouponEvents)
	require.Empty(t, rec.kinds())
	require.Len(t, fc.queried, 3)
}

func TestMonitorSeriesFailureSkipsDependentChecks(t *testing.T) {
	fc := newFakeChain()
	fc.balance = native("0")
	fc.infoErr = &chain.RPCError{Op: "getSeriesInfo", Err: errors.New("bad gateway")}
	fc.info.EmergencyMode = true
	store := &memoryStore{lockFree: true}
	svc, rec := newTestService(fc, testOptions(), store)

	res := svc.Monitor(context.Background())

	require.False(t, res.Success)
	require.Contains(t, res.Error, "bad gateway")
	require.Equal(t, []string{alerting.KindLowBalance, alerting.KindMonitorFailed}, rec.kinds())
	require.Len(t, fc.queried, 3)
	require.Len(t, store.runs, 1)
	require.Equal(t, ReasonError, store.runs[0].Reason)
}

func TestMonitorCollectsFailuresIntoOneNotification(t *testing.T) {
	fc := newFakeChain()
	fc.balanceErr = errors.New("balance down")
	fc.blockErr = errors.New("block number down")
	svc, rec := newTestService(fc, testOptions(), nil)

	res := svc.Monitor(context.Background())

	require.False(t, res.Success)
	require.Contains(t, res.Error, "balance down")
	require.Contains(t, res.Error, "block number down")
	require.Equal(t, 1, rec.count(alerting.KindMonitorFailed))
}

func TestMonitorRecoversFromPanic(t *testing.T) {
	fc := newFakeChain()
	fc.info.RecordCount = nil
	svc, rec := newTestService(fc, testOptions(), nil)

	res := svc.Monitor(context.Background())

	require.False(t, res.Success)
	require.Contains(t, res.Error, "panic")
	require.Equal(t, []string{alerting.KindMonitorFailed}, rec.kinds())
}

func TestMonitorMaturity(t *testing.T) {
	tests := []struct {
		name        string
		maturity    time.Time
		wantMatured bool
		wantNotify  bool
	}{
		{"not yet", testNow.Add(3 * time.Hour), false, false},
		{"just matured", testNow.Add(-5 * time.Minute), true, true},
		{"at window edge", testNow.Add(-10 * time.Minute), true, false},
		{"long ago", testNow.Add(-48 * time.Hour), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeChain()
			fc.info.MaturityDate = big.NewInt(tt.maturity.Unix())
			svc, rec := newTestService(fc, testOptions(), nil)

			res := svc.Monitor(context.Background())

			require.True(t, res.Success)
			require.Equal(t, tt.wantMatured, res.Matured)
			if tt.wantNotify {
				require.Equal(t, []string{alerting.KindBondMatured}, rec.kinds())
				require.Equal(t, alerting.ColorGreen, rec.notes[0].Color)
			} else {
				require.Empty(t, rec.kinds())
			}
		})
	}
}
