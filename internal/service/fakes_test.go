package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bondkeeper/internal/alerting"
	"bondkeeper/internal/chain"
	"bondkeeper/internal/storage"
	"bondkeeper/internal/units"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func native(v string) *big.Int {
	return units.FromDecimal(decimal.RequireFromString(v), units.NativeDecimals)
}

type fakeChain struct {
	mu sync.Mutex

	keeper   common.Address
	contract common.Address

	balance    *big.Int
	balanceErr error

	info    chain.SeriesInfo
	infoErr error

	next            *big.Int
	count           *big.Int
	lastDistributed *big.Int
	snapshots       map[int64]chain.Snapshot

	submitErr  error
	submitHash common.Hash
	submits    int

	block      uint64
	blockErr   error
	events     map[string][]chain.Event
	eventErrs  map[string]error
	blockTimes map[uint64]time.Time
	queried    []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		keeper:          common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		contract:        common.HexToAddress("0xF501820e6C95c84b7607AEE41b422FEc497AC7FE"),
		balance:         native("5"),
		next:            big.NewInt(testNow.Add(-time.Minute).Unix()),
		count:           big.NewInt(3),
		lastDistributed: big.NewInt(3),
		snapshots:       map[int64]chain.Snapshot{},
		block:           5000,
		events:          map[string][]chain.Event{},
		eventErrs:       map[string]error{},
		blockTimes:      map[uint64]time.Time{},
		info: chain.SeriesInfo{
			MaturityDate:          big.NewInt(testNow.Add(30 * 24 * time.Hour).Unix()),
			TotalDeposited:        big.NewInt(1_000_000_000),
			TotalSupply:           big.NewInt(1_000_000_000),
			RecordCount:           big.NewInt(3),
			CumulativeCouponIndex: big.NewInt(0),
		},
	}
}

func (f *fakeChain) KeeperAddress() common.Address { return f.keeper }
func (f *fakeChain) ContractAddress() common.Address { return f.contract }

func (f *fakeChain) Balance(context.Context, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeChain) ReadSeriesInfo(context.Context) (chain.SeriesInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeChain) NextRecordTime(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next, nil
}

func (f *fakeChain) RecordCount(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.count), nil
}

func (f *fakeChain) LastDistributedRecord(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastDistributed, nil
}

func (f *fakeChain) ReadSnapshot(_ context.Context, index *big.Int) (chain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[index.Int64()]
	if !ok {
		return chain.Snapshot{}, &chain.RPCError{Op: "snapshots", Err: fmt.Errorf("no snapshot %s", index)}
	}
	return snap, nil
}

func (f *fakeChain) SubmitSnapshot(context.Context) (chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return chain.Receipt{TxHash: f.submitHash}, f.submitErr
	}
	f.count = new(big.Int).Add(f.count, big.NewInt(1))
	return chain.Receipt{
		BlockNumber: f.block,
		GasUsed:     51234,
		TxHash:      common.HexToHash("0xbeef"),
	}, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.block, f.blockErr
}

func (f *fakeChain) BlockTime(_ context.Context, number uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.blockTimes[number]
	if !ok {
		return time.Time{}, errors.New("unknown block")
	}
	return at, nil
}

func (f *fakeChain) QueryEvents(_ context.Context, name string, _, _ uint64) ([]chain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, name)
	if err := f.eventErrs[name]; err != nil {
		return nil, err
	}
	return f.events[name], nil
}

var _ chain.BondSeries = (*fakeChain)(nil)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) count(kind string) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type memoryStore struct {
	mu        sync.Mutex
	snapshots []storage.SnapshotRecord
	runs      []storage.RunRecord
	lockFree  bool
	lockKeys  []int64
}

func (m *memoryStore) UpsertSnapshot(_ context.Context, snap storage.SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *memoryStore) ListSnapshotsBetween(context.Context, time.Time, time.Time) ([]storage.SnapshotRecord, error) {
	return m.snapshots, nil
}

func (m *memoryStore) ListRecentSnapshots(context.Context, int) ([]storage.SnapshotRecord, error) {
	return m.snapshots, nil
}

func (m *memoryStore) CountSnapshots(context.Context) (int64, error) {
	return int64(len(m.snapshots)), nil
}

func (m *memoryStore) InsertRun(_ context.Context, run storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryStore) ListRecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return m.runs, nil
}

func (m *memoryStore) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockKeys = append(m.lockKeys, key)
	if !m.lockFree {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type memoryDedup struct {
	keys map[string]bool
}

func (m *memoryDedup) AlreadySent(_ context.Context, key string) bool { return m.keys[key] }
func (m *memoryDedup) Record(_ context.Context, key string) { m.keys[key] = true }
func (m *memoryDedup) Clear(_ context.Context, key string) { delete(m.keys, key) }

func testOptions() Options {
	return Options{
		MinBalance:           native("1"),
		MissedWarning:        2,
		MissedCritical:       3,
		MaturityNotifyWindow: 10 * time.Minute,
		EventLookback:        1000,
	}
}

func testCatalog() alerting.Catalog {
	return alerting.Catalog{
		ExplorerURL:  "https://testnet.arcscan.app",
		NativeSymbol: "USDC",
		ShareSymbol:  "arcUSDC",
		MinBalance:   "1",
	}
}

func newTestService(fc *fakeChain, opts Options, store *memoryStore, dispatchOpts ...alerting.DispatcherOption) (*Service, *recordingNotifier) {
	rec := &recordingNotifier{}
	dispatcher := alerting.NewDispatcher(rec, zerolog.Nop(), dispatchOpts...)

	var (
		snaps storage.SnapshotStore
		runs  storage.RunStore
	)
	if store != nil {
		snaps = store
		runs = store
	}

	svc := New(opts, testCatalog(), fc, dispatcher, snaps, runs, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	seq := 0
	svc.newRunID = func() string {
		seq++
		return fmt.Sprintf("run-%d", seq)
	}
	return svc, rec
}
