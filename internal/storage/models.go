package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Run results written to keeper_runs.result.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// RunRecord is one pipeline invocation.
type RunRecord struct {
	ID         string
	Pipeline   string
	StartedAt  time.Time
	FinishedAt time.Time
	Result     string
	Reason     string
	RecordID   *int64
	TxHash     string
	Error      *string
	// Details holds pipeline-specific output, e.g. the monitor classification.
	Details json.RawMessage
}

// SnapshotRecord mirrors an on-chain snapshot.
type SnapshotRecord struct {
	RecordID        int64
	SnapshotTS      time.Time
	TotalSupply     decimal.Decimal
	TreasuryBalance decimal.Decimal
	CouponDue       decimal.Decimal
	TxHash          string
	BlockNumber     *int64
	// Source is "keeper" for snapshots this process recorded, "backfill" otherwise.
	Source    string
	CreatedAt time.Time
}

// AlertRecord captures a notification delivery decision for auditing.
type AlertRecord struct {
	ID        int64
	Kind      string
	Title     string
	Status    string
	DedupKey  string
	Fields    json.RawMessage
	Error     *string
	CreatedAt time.Time
}
