package alerting

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"bondkeeper/internal/units"
)

// Notification kinds.
const (
	KindLowBalance         = "low_balance"
	KindSnapshotRecorded   = "snapshot_recorded"
	KindSnapshotFailed     = "snapshot_failed"
	KindEmergencyMode      = "emergency_mode"
	KindMissedCritical     = "missed_distributions_critical"
	KindMissedWarning      = "missed_distributions_warning"
	KindEmergencyActivated = "emergency_activated"
	KindBondMatured        = "bond_matured"
	KindMonitorFailed      = "monitor_failed"
	KindTest               = "test"
)

// maxErrorText bounds error messages embedded in notifications.
const maxErrorText = 1000

// Catalog builds the keeper's notifications.
type Catalog struct {
	ExplorerURL  string
	NativeSymbol string
	ShareSymbol  string
	// MinBalance is the human-readable keeper balance threshold, e.g. "1".
	MinBalance string
}

// EmergencyModeKey is the dedup key for the recurring emergency-mode alert.
func EmergencyModeKey(contract string) string {
	return "bondkeeper:emergency_mode:" + strings.ToLower(contract)
}

func (c Catalog) txLink(hash string) string {
	return fmt.Sprintf("%s/tx/%s", strings.TrimRight(c.ExplorerURL, "/"), hash)
}

func (c Catalog) addressLink(addr string) string {
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(c.ExplorerURL, "/"), addr)
}

// LowBalance warns that the keeper cannot pay for gas much longer.
func (c Catalog) LowBalance(balance *big.Int) Notification {
	return Notification{
		Kind:  KindLowBalance,
		Title: "⚠️ Keeper Balance Low",
		Fields: []Field{
			{Name: "Current Balance", Value: fmt.Sprintf("%s %s", units.Format(balance, units.NativeDecimals, 2), c.NativeSymbol), Inline: true},
			{Name: "Minimum Required", Value: fmt.Sprintf("%s %s", c.MinBalance, c.NativeSymbol), Inline: true},
			{Name: "Action Required", Value: "Please refill keeper wallet for gas fees"},
		},
		Color: ColorOrange,
	}
}

// SnapshotRecorded reports a freshly recorded snapshot.
func (c Catalog) SnapshotRecorded(recordID, totalSupply, treasury, couponDue *big.Int, txHash string) Notification {
	return Notification{
		Kind:  KindSnapshotRecorded,
		Title: "📸 Snapshot Recorded",
		Fields: []Field{
			{Name: "Record ID", Value: bigString(recordID), Inline: true},
			{Name: "Total Supply", Value: fmt.Sprintf("%s %s", units.Format(totalSupply, units.ShareDecimals, 2), c.ShareSymbol), Inline: true},
			{Name: "Treasury", Value: fmt.Sprintf("%s %s", units.Format(treasury, units.StableDecimals, 2), c.NativeSymbol), Inline: true},
			{Name: "Coupon Due", Value: fmt.Sprintf("%s %s", units.Format(couponDue, units.StableDecimals, 6), c.NativeSymbol)},
			{Name: "Transaction", Value: fmt.Sprintf("[View on Explorer](%s)", c.txLink(txHash))},
			{Name: "📝 Next Step", Value: "Owner should distribute coupon now!"},
		},
		Color: ColorGreen,
	}
}

// SnapshotFailed reports an unexpected snapshot pipeline error.
func (c Catalog) SnapshotFailed(err error, at time.Time) Notification {
	return Notification{
		Kind:  KindSnapshotFailed,
		Title: "🚨 Snapshot Failed",
		Fields: []Field{
			{Name: "Error", Value: ErrorText(err)},
			{Name: "Time", Value: isoTime(at)},
		},
		Color:     ColorRed,
		Timestamp: at,
	}
}

// EmergencyMode is sent on every monitor run while the series is in emergency mode.
func (c Catalog) EmergencyMode(contract string) Notification {
	return Notification{
		Kind:  KindEmergencyMode,
		Title: "🚨 EMERGENCY MODE ACTIVE",
		Fields: []Field{
			{Name: "Status", Value: "Owner has defaulted on coupon payments"},
			{Name: "Action Required", Value: fmt.Sprintf("Users should emergency redeem their %s tokens", c.ShareSymbol)},
			{Name: "Impact", Value: fmt.Sprintf("Users will receive pro-rata %s based on treasury balance", c.NativeSymbol)},
			{Name: "🔗 Contract", Value: fmt.Sprintf("[View on Explorer](%s)", c.addressLink(contract))},
		},
		Color:    ColorRed,
		DedupKey: EmergencyModeKey(contract),
	}
}

// MissedDistributionsCritical fires when too many snapshots await a coupon.
func (c Catalog) MissedDistributionsCritical(pending int64) Notification {
	return Notification{
		Kind:  KindMissedCritical,
		Title: "⚠️ CRITICAL: Multiple Missed Distributions",
		Fields: []Field{
			{Name: "Pending Count", Value: fmt.Sprintf("%d", pending), Inline: true},
			{Name: "Status", Value: "Emergency mode may activate soon!"},
			{Name: "Action", Value: "Owner must distribute coupon immediately"},
		},
		Color: ColorRed,
	}
}

// MissedDistributionsWarning fires at the warning threshold.
func (c Catalog) MissedDistributionsWarning(pending int64) Notification {
	return Notification{
		Kind:  KindMissedWarning,
		Title: "⚠️ WARNING: Missed Distributions",
		Fields: []Field{
			{Name: "Pending Count", Value: fmt.Sprintf("%d", pending), Inline: true},
			{Name: "Action", Value: "Owner should distribute coupon soon"},
		},
		Color: ColorOrange,
	}
}

// EmergencyActivated reports one EmergencyRedeemEnabled log.
func (c Catalog) EmergencyActivated(block uint64, at time.Time, txHash string, logIndex uint) Notification {
	return Notification{
		Kind:  KindEmergencyActivated,
		Title: "🚨 NEW EMERGENCY MODE ACTIVATION DETECTED",
		Fields: []Field{
			{Name: "Block", Value: fmt.Sprintf("%d", block), Inline: true},
			{Name: "Time", Value: isoTime(at), Inline: true},
			{Name: "Transaction", Value: fmt.Sprintf("[View](%s)", c.txLink(txHash))},
			{Name: "Impact", Value: fmt.Sprintf("⚠️ Users can now emergency redeem for pro-rata %s", c.NativeSymbol)},
		},
		Color:    ColorRed,
		DedupKey: fmt.Sprintf("bondkeeper:emergency_event:%s:%d", strings.ToLower(txHash), logIndex),
	}
}

// BondMatured announces that principal is redeemable.
func (c Catalog) BondMatured(maturity time.Time, totalSupply *big.Int) Notification {
	return Notification{
		Kind:  KindBondMatured,
		Title: "🎉 Bond Maturity Reached",
		Fields: []Field{
			{Name: "Status", Value: "Users can now redeem their principal"},
			{Name: "Maturity Date", Value: isoTime(maturity), Inline: true},
			{Name: "Total Supply", Value: fmt.Sprintf("%s %s", units.ToDecimal(totalSupply, units.StableDecimals).String(), c.ShareSymbol), Inline: true},
		},
		Color:    ColorGreen,
		DedupKey: fmt.Sprintf("bondkeeper:matured:%d", maturity.Unix()),
	}
}

// MonitorFailed summarises a health monitor run with failed checks.
func (c Catalog) MonitorFailed(err error, at time.Time) Notification {
	return Notification{
		Kind:  KindMonitorFailed,
		Title: "❌ Monitor Error",
		Fields: []Field{
			{Name: "Error", Value: ErrorText(err)},
			{Name: "Time", Value: isoTime(at)},
		},
		Color:     ColorRed,
		Timestamp: at,
	}
}

// Test is the notify-test message.
func (c Catalog) Test(keeper, contract string, at time.Time) Notification {
	return Notification{
		Kind:  KindTest,
		Title: "🧪 Keeper Test Notification",
		Fields: []Field{
			{Name: "Keeper", Value: keeper, Inline: true},
			{Name: "Contract", Value: fmt.Sprintf("[View on Explorer](%s)", c.addressLink(contract))},
			{Name: "Time", Value: isoTime(at)},
		},
		Color:     ColorBlue,
		Timestamp: at,
	}
}

// ErrorText renders err for an embed, bounded to 1000 characters.
func ErrorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return truncate(err.Error(), maxErrorText)
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
