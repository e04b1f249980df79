// Package chain talks to the BondSeries contract over JSON-RPC.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SeriesInfo is the getSeriesInfo() view at call time.
type SeriesInfo struct {
	MaturityDate          *big.Int
	TotalDeposited        *big.Int
	TotalSupply           *big.Int
	RecordCount           *big.Int
	CumulativeCouponIndex *big.Int
	EmergencyMode         bool
}

// Maturity returns the maturity date as a time.
func (s SeriesInfo) Maturity() time.Time {
	return time.Unix(s.MaturityDate.Int64(), 0).UTC()
}

// Snapshot is one entry of the snapshots(uint256) mapping.
type Snapshot struct {
	RecordID        *big.Int
	Timestamp       *big.Int
	TotalSupply     *big.Int
	TreasuryBalance *big.Int
}

// Time returns the snapshot timestamp.
func (s Snapshot) Time() time.Time {
	return time.Unix(s.Timestamp.Int64(), 0).UTC()
}

// Receipt summarises a mined keeper transaction.
type Receipt struct {
	BlockNumber uint64
	GasUsed     uint64
	TxHash      common.Hash
}

// Event is a decoded contract log.
type Event struct {
	Name        string
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Fields      map[string]any
}

// Uint returns a uint256 field, or nil when absent.
func (e Event) Uint(name string) *big.Int {
	v, _ := e.Fields[name].(*big.Int)
	return v
}

// BondSeries is the contract surface the keeper relies on.
type BondSeries interface {
	KeeperAddress() common.Address
	ContractAddress() common.Address
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	ReadSeriesInfo(ctx context.Context) (SeriesInfo, error)
	NextRecordTime(ctx context.Context) (*big.Int, error)
	RecordCount(ctx context.Context) (*big.Int, error)
	LastDistributedRecord(ctx context.Context) (*big.Int, error)
	ReadSnapshot(ctx context.Context, index *big.Int) (Snapshot, error)
	SubmitSnapshot(ctx context.Context) (Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	QueryEvents(ctx context.Context, name string, fromBlock, toBlock uint64) ([]Event, error)
}
