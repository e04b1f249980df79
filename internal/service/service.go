// Package service runs the keeper pipelines against the bond contract.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"bondkeeper/internal/alerting"
	"bondkeeper/internal/chain"
	"bondkeeper/internal/config"
	"bondkeeper/internal/logging"
	"bondkeeper/internal/metrics"
	"bondkeeper/internal/storage"
	"bondkeeper/internal/units"
)

// Pipeline names, used for guards, metrics and run history.
const (
	PipelineSnapshot = "snapshot"
	PipelineMonitor  = "monitor"
)

var lockOffsets = map[string]int64{
	PipelineSnapshot: 0,
	PipelineMonitor:  1,
}

// Options are the thresholds the pipelines apply.
type Options struct {
	MinBalance           *big.Int
	MissedWarning        int64
	MissedCritical       int64
	MaturityNotifyWindow time.Duration
	EventLookback        uint64
	LockKey              int64
}

// OptionsFromConfig converts keeper settings into pipeline options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	minBalance, err := decimal.NewFromString(cfg.Keeper.MinBalance)
	if err != nil {
		return Options{}, fmt.Errorf("parse keeper.min_balance: %w", err)
	}
	return Options{
		MinBalance:           units.FromDecimal(minBalance, units.NativeDecimals),
		MissedWarning:        cfg.Keeper.MissedWarning,
		MissedCritical:       cfg.Keeper.MissedCritical,
		MaturityNotifyWindow: cfg.Keeper.MaturityNotifyWindow,
		EventLookback:        cfg.Chain.EventLookback,
		LockKey:              cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

// CatalogFromConfig builds the notification catalogue for cfg.
func CatalogFromConfig(cfg *config.Config) alerting.Catalog {
	return alerting.Catalog{
		ExplorerURL:  cfg.Chain.ExplorerURL,
		NativeSymbol: cfg.Keeper.NativeSymbol,
		ShareSymbol:  cfg.Keeper.ShareSymbol,
		MinBalance:   cfg.Keeper.MinBalance,
	}
}

// Service orchestrates chain access, persistence, and alerting.
type Service struct {
	bond       chain.BondSeries
	dispatcher *alerting.Dispatcher
	catalog    alerting.Catalog
	snapshots  storage.SnapshotStore
	runs       storage.RunStore
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger

	flight   singleflight.Group
	now      func() time.Time
	newRunID func() string
}

// New constructs the keeper service. snapshots and runs may be nil.
func New(opts Options, catalog alerting.Catalog, bond chain.BondSeries, dispatcher *alerting.Dispatcher, snapshots storage.SnapshotStore, runs storage.RunStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := snapshots.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if opts.MinBalance == nil {
		opts.MinBalance = units.FromDecimal(decimal.NewFromInt(1), units.NativeDecimals)
	}

	return &Service{
		bond:       bond,
		dispatcher: dispatcher,
		catalog:    catalog,
		snapshots:  snapshots,
		runs:       runs,
		locker:     locker,
		opts:       opts,
		logger:     logging.Component(logger, "service"),
		now:        func() time.Time { return time.Now().UTC() },
		newRunID:   func() string { return uuid.NewString() },
	}
}

// guard runs fn at most once at a time per pipeline in this process and,
// with a database, across processes. Overlapping callers share the result.
func (s *Service) guard(ctx context.Context, pipeline string, fn func(ctx context.Context) any, locked func(err error) any) any {
	v, _, shared := s.flight.Do(pipeline, func() (any, error) {
		unlock, proceed, err := s.acquireLock(ctx, pipeline)
		if err != nil {
			s.logger.Error().Err(err).Str("pipeline", pipeline).Msg("advisory lock failed")
			metrics.RunsTotal.WithLabelValues(pipeline, ReasonError).Inc()
			return locked(err), nil
		}
		if !proceed {
			s.logger.Info().Str("pipeline", pipeline).Msg("skip run because advisory lock held elsewhere")
			metrics.RunsTotal.WithLabelValues(pipeline, ReasonLocked).Inc()
			return locked(nil), nil
		}
		if unlock != nil {
			defer unlock()
		}
		return fn(ctx), nil
	})
	if shared {
		s.logger.Debug().Str("pipeline", pipeline).Msg("joined in-flight run")
	}
	return v
}

func (s *Service) acquireLock(ctx context.Context, pipeline string) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey+lockOffsets[pipeline])
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// checkBalance reads the keeper balance and sends a low-balance alert below the minimum.
func (s *Service) checkBalance(ctx context.Context, logger zerolog.Logger) (*big.Int, error) {
	keeper := s.bond.KeeperAddress()
	balance, err := s.bond.Balance(ctx, keeper)
	if err != nil {
		return nil, fmt.Errorf("read keeper balance: %w", err)
	}

	human := units.ToDecimal(balance, units.NativeDecimals)
	metrics.KeeperBalance.Set(human.InexactFloat64())
	logger.Info().Str("keeper", keeper.Hex()).Str("balance", human.String()).Msg("keeper balance")

	if balance.Cmp(s.opts.MinBalance) < 0 {
		logger.Warn().Str("balance", human.String()).Str("minimum", units.ToDecimal(s.opts.MinBalance, units.NativeDecimals).String()).Msg("keeper balance low")
		s.dispatcher.Send(ctx, s.catalog.LowBalance(balance))
	}
	return balance, nil
}

type runSummary struct {
	pipeline string
	runID    string
	started  time.Time
	success  bool
	reason   string
	recordID *big.Int
	txHash   string
	err      error
	details  any
}

// finishRun updates metrics and stores the run. Persistence errors are logged only.
func (s *Service) finishRun(ctx context.Context, logger zerolog.Logger, sum runSummary) {
	finished := s.now()
	result := storage.ResultSuccess
	if !sum.success {
		result = storage.ResultFailure
	}

	label := result
	if sum.reason != "" {
		label = sum.reason
	}
	metrics.RunsTotal.WithLabelValues(sum.pipeline, label).Inc()
	metrics.RunDuration.WithLabelValues(sum.pipeline).Observe(finished.Sub(sum.started).Seconds())
	if sum.success {
		metrics.LastSuccess.WithLabelValues(sum.pipeline).Set(float64(finished.Unix()))
	}

	if s.runs == nil {
		return
	}

	rec := storage.RunRecord{
		ID:         sum.runID,
		Pipeline:   sum.pipeline,
		StartedAt:  sum.started,
		FinishedAt: finished,
		Result:     result,
		Reason:     sum.reason,
		TxHash:     sum.txHash,
	}
	if sum.recordID != nil && sum.recordID.IsInt64() {
		id := sum.recordID.Int64()
		rec.RecordID = &id
	}
	if sum.err != nil {
		msg := sum.err.Error()
		rec.Error = &msg
	}
	if sum.details != nil {
		if raw, err := json.Marshal(sum.details); err == nil {
			rec.Details = raw
		}
	}
	if err := s.runs.InsertRun(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to persist run")
	}
}
