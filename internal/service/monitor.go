package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"bondkeeper/internal/alerting"
	"bondkeeper/internal/chain"
	"bondkeeper/internal/metrics"
	"bondkeeper/internal/units"
)

// Severity grades the number of snapshots awaiting a coupon distribution.
type Severity string

const (
	SeverityUpToDate Severity = "up_to_date"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ClassifyPending maps a pending distribution count onto a severity.
// It is monotonic in pending.
func ClassifyPending(pending, warning, critical int64) Severity {
	switch {
	case pending >= critical:
		return SeverityCritical
	case pending >= warning:
		return SeverityWarning
	case pending > 0:
		return SeverityInfo
	default:
		return SeverityUpToDate
	}
}

// MonitorResult is the outcome of one health monitor run.
type MonitorResult struct {
	RunID           string    `json:"run_id,omitempty"`
	Success         bool      `json:"success"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
	Err             error     `json:"-"`
	KeeperBalance   *big.Int  `json:"keeper_balance,omitempty"`
	LowBalance      bool      `json:"low_balance"`
	EmergencyMode   bool      `json:"emergency_mode"`
	Pending         int64     `json:"pending"`
	Severity        Severity  `json:"severity,omitempty"`
	EmergencyEvents int       `json:"emergency_events"`
	SnapshotEvents  int       `json:"snapshot_events"`
	CouponEvents    int       `json:"coupon_events"`
	Matured         bool      `json:"matured"`
}

// Monitor runs the health checks once. Every check runs even if an earlier
// one failed, except those that need the series status. Failures produce a
// single error notification at the end.
func (s *Service) Monitor(ctx context.Context) MonitorResult {
	v := s.guard(ctx, PipelineMonitor,
		func(ctx context.Context) any { return s.monitor(ctx) },
		func(err error) any {
			if err != nil {
				return MonitorResult{Reason: ReasonError, Timestamp: s.now(), Error: err.Error(), Err: err}
			}
			return MonitorResult{Reason: ReasonLocked, Timestamp: s.now()}
		})
	return v.(MonitorResult)
}

func (s *Service) monitor(ctx context.Context) MonitorResult {
	runID := s.newRunID()
	started := s.now()
	logger := s.logger.With().Str("pipeline", PipelineMonitor).Str("run_id", runID).Logger()
	logger.Info().Time("started_at", started).Msg("health check started")

	res := MonitorResult{RunID: runID}
	failures := s.runChecks(ctx, logger, &res)
	res.Timestamp = s.now()

	if len(failures) > 0 {
		err := errors.Join(failures...)
		res.Err = err
		res.Error = err.Error()
		res.Reason = ReasonError
		logger.Error().Err(err).Int("failed_checks", len(failures)).Msg("health check finished with errors")
		s.dispatcher.Send(ctx, s.catalog.MonitorFailed(err, res.Timestamp))
	} else {
		res.Success = true
		logger.Info().Msg("health check complete")
	}

	s.finishRun(ctx, logger, runSummary{
		pipeline: PipelineMonitor,
		runID:    runID,
		started:  started,
		success:  res.Success,
		reason:   res.Reason,
		err:      res.Err,
		details:  res,
	})
	return res
}

type seriesStatus struct {
	info            chain.SeriesInfo
	lastDistributed *big.Int
	nextRecordTime  *big.Int
}

func (s *Service) runChecks(ctx context.Context, logger zerolog.Logger, res *MonitorResult) (failures []error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("health check panicked")
			failures = append(failures, fmt.Errorf("health check panic: %v", r))
		}
	}()

	// 1. keeper balance
	if balance, err := s.checkBalance(ctx, logger); err != nil {
		logger.Warn().Err(err).Msg("balance check failed")
		failures = append(failures, err)
	} else {
		res.KeeperBalance = balance
		res.LowBalance = balance.Cmp(s.opts.MinBalance) < 0
	}

	// 2. series status
	status, err := s.readSeriesStatus(ctx, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("series status check failed, skipping dependent checks")
		failures = append(failures, err)
	}

	if status != nil {
		// 3. emergency mode
		s.checkEmergencyMode(ctx, logger, status.info, res)
		// 4. missed distributions
		if err := s.checkDistributions(ctx, logger, status, res); err != nil {
			failures = append(failures, err)
		}
	}

	// 5. recent events
	if err := s.scanEvents(ctx, logger, res); err != nil {
		logger.Warn().Err(err).Msg("event scan failed")
		failures = append(failures, err)
	}

	// 6. maturity
	if status != nil {
		s.checkMaturity(ctx, logger, status.info, res)
	}
	return failures
}

func (s *Service) readSeriesStatus(ctx context.Context, logger zerolog.Logger) (*seriesStatus, error) {
	info, err := s.bond.ReadSeriesInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("read series info: %w", err)
	}
	last, err := s.bond.LastDistributedRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last distributed record: %w", err)
	}
	next, err := s.bond.NextRecordTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("read next record time: %w", err)
	}

	metrics.RecordCount.Set(float64(info.RecordCount.Int64()))
	logger.Info().
		Str("total_deposited", units.ToDecimal(info.TotalDeposited, units.StableDecimals).String()).
		Str("total_supply", units.ToDecimal(info.TotalSupply, units.StableDecimals).String()).
		Str("record_count", info.RecordCount.String()).
		Str("last_distributed", last.String()).
		Bool("emergency_mode", info.EmergencyMode).
		Time("next_record_time", time.Unix(next.Int64(), 0).UTC()).
		Msg("series status")

	return &seriesStatus{info: info, lastDistributed: last, nextRecordTime: next}, nil
}

func (s *Service) checkEmergencyMode(ctx context.Context, logger zerolog.Logger, info chain.SeriesInfo, res *MonitorResult) {
	res.EmergencyMode = info.EmergencyMode
	contract := s.bond.ContractAddress().Hex()
	if !info.EmergencyMode {
		metrics.EmergencyMode.Set(0)
		s.dispatcher.Reset(ctx, alerting.EmergencyModeKey(contract))
		return
	}
	metrics.EmergencyMode.Set(1)
	logger.Error().Msg("emergency mode is active")
	s.dispatcher.Send(ctx, s.catalog.EmergencyMode(contract))
}

func (s *Service) checkDistributions(ctx context.Context, logger zerolog.Logger, status *seriesStatus, res *MonitorResult) error {
	pendingBig := new(big.Int).Sub(status.info.RecordCount, status.lastDistributed)
	if !pendingBig.IsInt64() {
		return fmt.Errorf("pending distributions out of range: %s", pendingBig)
	}
	pending := pendingBig.Int64()
	res.Pending = pending
	res.Severity = ClassifyPending(pending, s.opts.MissedWarning, s.opts.MissedCritical)
	metrics.PendingDistributions.Set(float64(pending))

	switch res.Severity {
	case SeverityCritical:
		logger.Error().Int64("pending", pending).Msg("multiple snapshots without distribution")
		s.dispatcher.Send(ctx, s.catalog.MissedDistributionsCritical(pending))
	case SeverityWarning:
		logger.Warn().Int64("pending", pending).Msg("snapshots without distribution")
		s.dispatcher.Send(ctx, s.catalog.MissedDistributionsWarning(pending))
	case SeverityInfo:
		logger.Info().Int64("pending", pending).Msg("snapshot awaiting distribution (normal)")
	default:
		logger.Info().Int64("pending", pending).Msg("all distributions up to date")
	}
	return nil
}

// scanEvents looks back over a fixed block window, so consecutive runs may
// report the same events again.
func (s *Service) scanEvents(ctx context.Context, logger zerolog.Logger, res *MonitorResult) error {
	current, err := s.bond.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read block number: %w", err)
	}
	var from uint64
	if current > s.opts.EventLookback {
		from = current - s.opts.EventLookback
	}

	if events, err := s.bond.QueryEvents(ctx, chain.EventEmergencyRedeemEnabled, from, current); err != nil {
		logger.Warn().Err(err).Str("event", chain.EventEmergencyRedeemEnabled).Msg("could not query events")
	} else {
		res.EmergencyEvents = len(events)
		if len(events) > 0 {
			logger.Error().Int("count", len(events)).Msg("emergency events detected")
		}
		for _, ev := range events {
			s.dispatcher.Send(ctx, s.catalog.EmergencyActivated(ev.BlockNumber, s.eventTime(ctx, logger, ev), ev.TxHash.Hex(), ev.LogIndex))
		}
	}

	if events, err := s.bond.QueryEvents(ctx, chain.EventSnapshotRecorded, from, current); err != nil {
		logger.Warn().Err(err).Str("event", chain.EventSnapshotRecorded).Msg("could not query events")
	} else {
		res.SnapshotEvents = len(events)
		logger.Info().Int("count", len(events)).Uint64("from_block", from).Msg("snapshots in lookback window")
	}

	if events, err := s.bond.QueryEvents(ctx, chain.EventCouponDistributed, from, current); err != nil {
		logger.Warn().Err(err).Str("event", chain.EventCouponDistributed).Msg("could not query events")
	} else {
		res.CouponEvents = len(events)
		logger.Info().Int("count", len(events)).Uint64("from_block", from).Msg("distributions in lookback window")
	}
	return nil
}

// eventTime prefers the block timestamp and falls back to the event's own field.
func (s *Service) eventTime(ctx context.Context, logger zerolog.Logger, ev chain.Event) time.Time {
	at, err := s.bond.BlockTime(ctx, ev.BlockNumber)
	if err == nil {
		return at
	}
	logger.Warn().Err(err).Uint64("block", ev.BlockNumber).Msg("could not read block time")
	if ts := ev.Uint("timestamp"); ts != nil {
		return time.Unix(ts.Int64(), 0).UTC()
	}
	return s.now()
}

func (s *Service) checkMaturity(ctx context.Context, logger zerolog.Logger, info chain.SeriesInfo, res *MonitorResult) {
	now := s.now()
	maturity := info.Maturity()
	if now.Before(maturity) {
		remaining := maturity.Sub(now)
		hours := int64(remaining / time.Hour)
		minutes := int64((remaining % time.Hour) / time.Minute)
		logger.Info().Time("maturity", maturity).Msgf("time to maturity: %dh %dm", hours, minutes)
		return
	}

	res.Matured = true
	logger.Info().Time("maturity", maturity).Msg("bond has matured")
	if now.Sub(maturity) < s.opts.MaturityNotifyWindow {
		s.dispatcher.Send(ctx, s.catalog.BondMatured(maturity, info.TotalSupply))
	}
}
