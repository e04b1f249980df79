package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"bondkeeper/internal/chain"
	"bondkeeper/internal/storage"
	"bondkeeper/internal/units"
)

// Snapshot pipeline failure reasons.
const (
	ReasonTooSoon           = "too_soon"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonError             = "error"
	ReasonLocked            = "locked"
)

// TimeLeft describes how long until recordSnapshot() may be called.
type TimeLeft struct {
	Seconds      int64
	Hours        float64
	CanRecordNow bool
}

// NewTimeLeft derives TimeLeft from the contract's nextRecordTime.
func NewTimeLeft(nextRecordTime *big.Int, now time.Time) TimeLeft {
	seconds := nextRecordTime.Int64() - now.Unix()
	return TimeLeft{
		Seconds:      seconds,
		Hours:        float64(seconds) / 3600,
		CanRecordNow: seconds <= 0,
	}
}

// SnapshotResult is the outcome of one snapshot pipeline run.
type SnapshotResult struct {
	RunID           string   `json:"run_id,omitempty"`
	Success         bool     `json:"success"`
	Reason          string   `json:"reason,omitempty"`
	RecordID        *big.Int `json:"record_id,omitempty"`
	TxHash          string   `json:"tx_hash,omitempty"`
	TotalSupply     *big.Int `json:"total_supply,omitempty"`
	TreasuryBalance *big.Int `json:"treasury_balance,omitempty"`
	CouponDue       *big.Int `json:"coupon_due,omitempty"`
	Err             error    `json:"-"`
}

// ErrorText returns the failure text, or "".
func (r SnapshotResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// RecordSnapshot runs the snapshot pipeline once. It never returns an error;
// failures are reported through the result and notifications.
func (s *Service) RecordSnapshot(ctx context.Context) SnapshotResult {
	v := s.guard(ctx, PipelineSnapshot,
		func(ctx context.Context) any { return s.recordSnapshot(ctx) },
		func(err error) any {
			if err != nil {
				return SnapshotResult{Reason: ReasonError, Err: err}
			}
			return SnapshotResult{Reason: ReasonLocked}
		})
	return v.(SnapshotResult)
}

func (s *Service) recordSnapshot(ctx context.Context) SnapshotResult {
	runID := s.newRunID()
	started := s.now()
	logger := s.logger.With().Str("pipeline", PipelineSnapshot).Str("run_id", runID).Logger()
	logger.Info().Time("started_at", started).Msg("snapshot run started")

	res := s.executeSnapshot(ctx, logger)
	res.RunID = runID

	s.finishRun(ctx, logger, runSummary{
		pipeline: PipelineSnapshot,
		runID:    runID,
		started:  started,
		success:  res.Success,
		reason:   res.Reason,
		recordID: res.RecordID,
		txHash:   res.TxHash,
		err:      res.Err,
		details:  res,
	})
	return res
}

func (s *Service) executeSnapshot(ctx context.Context, logger zerolog.Logger) SnapshotResult {
	if _, err := s.checkBalance(ctx, logger); err != nil {
		return s.snapshotFailed(ctx, logger, SnapshotResult{}, err)
	}

	next, err := s.bond.NextRecordTime(ctx)
	if err != nil {
		return s.snapshotFailed(ctx, logger, SnapshotResult{}, fmt.Errorf("read next record time: %w", err))
	}
	count, err := s.bond.RecordCount(ctx)
	if err != nil {
		return s.snapshotFailed(ctx, logger, SnapshotResult{}, fmt.Errorf("read record count: %w", err))
	}
	logger.Info().
		Str("record_count", count.String()).
		Time("next_record_time", time.Unix(next.Int64(), 0).UTC()).
		Msg("contract status")

	left := NewTimeLeft(next, s.now())
	if !left.CanRecordNow {
		logger.Info().Str("hours_left", fmt.Sprintf("%.1f", left.Hours)).Msg("too soon to snapshot")
		return SnapshotResult{Reason: ReasonTooSoon}
	}

	logger.Info().Msg("submitting recordSnapshot transaction")
	receipt, err := s.bond.SubmitSnapshot(ctx)
	if err != nil {
		// a sent transaction may still mine; keep its hash on the run
		var partial SnapshotResult
		if receipt.TxHash != (common.Hash{}) {
			partial.TxHash = receipt.TxHash.Hex()
		}
		return s.snapshotFailed(ctx, logger, partial, err)
	}
	txHash := receipt.TxHash.Hex()
	logger.Info().
		Str("tx_hash", txHash).
		Uint64("block", receipt.BlockNumber).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction confirmed")

	// Another writer may record between the receipt and this read; not guarded.
	newCount, err := s.bond.RecordCount(ctx)
	if err != nil {
		return s.snapshotFailed(ctx, logger, SnapshotResult{TxHash: txHash}, fmt.Errorf("read record count: %w", err))
	}
	snap, err := s.bond.ReadSnapshot(ctx, newCount)
	if err != nil {
		return s.snapshotFailed(ctx, logger, SnapshotResult{TxHash: txHash}, fmt.Errorf("read snapshot %s: %w", newCount, err))
	}

	coupon := units.CouponDue(snap.TotalSupply)
	logger.Info().
		Str("record_id", snap.RecordID.String()).
		Str("total_supply", units.ToDecimal(snap.TotalSupply, units.ShareDecimals).String()).
		Str("treasury", units.ToDecimal(snap.TreasuryBalance, units.StableDecimals).String()).
		Str("coupon_due", units.ToDecimal(coupon, units.StableDecimals).String()).
		Msg("snapshot recorded")

	s.persistSnapshot(ctx, logger, snap, coupon, txHash, receipt.BlockNumber)
	s.dispatcher.Send(ctx, s.catalog.SnapshotRecorded(snap.RecordID, snap.TotalSupply, snap.TreasuryBalance, coupon, txHash))

	return SnapshotResult{
		Success:         true,
		RecordID:        snap.RecordID,
		TxHash:          txHash,
		TotalSupply:     snap.TotalSupply,
		TreasuryBalance: snap.TreasuryBalance,
		CouponDue:       coupon,
	}
}

// snapshotFailed maps err onto a reason and sends the matching notification.
func (s *Service) snapshotFailed(ctx context.Context, logger zerolog.Logger, res SnapshotResult, err error) SnapshotResult {
	res.Success = false
	res.Err = err

	switch {
	case errors.Is(err, chain.ErrTooSoon):
		logger.Info().Err(err).Msg("snapshot rejected, record interval not elapsed")
		res.Reason = ReasonTooSoon
	case errors.Is(err, chain.ErrInsufficientFunds):
		logger.Warn().Err(err).Msg("keeper has insufficient funds for gas")
		res.Reason = ReasonInsufficientFunds
		s.dispatcher.Send(ctx, s.catalog.LowBalance(new(big.Int)))
	default:
		logger.Error().Err(err).Msg("snapshot failed")
		res.Reason = ReasonError
		s.dispatcher.Send(ctx, s.catalog.SnapshotFailed(err, s.now()))
	}
	return res
}

func (s *Service) persistSnapshot(ctx context.Context, logger zerolog.Logger, snap chain.Snapshot, coupon *big.Int, txHash string, block uint64) {
	if s.snapshots == nil || !snap.RecordID.IsInt64() {
		return
	}
	blockNumber := int64(block)
	rec := storage.SnapshotRecord{
		RecordID:        snap.RecordID.Int64(),
		SnapshotTS:      snap.Time(),
		TotalSupply:     units.ToDecimal(snap.TotalSupply, units.ShareDecimals),
		TreasuryBalance: units.ToDecimal(snap.TreasuryBalance, units.StableDecimals),
		CouponDue:       units.ToDecimal(coupon, units.StableDecimals),
		TxHash:          txHash,
		BlockNumber:     &blockNumber,
		Source:          "keeper",
	}
	if err := s.snapshots.UpsertSnapshot(ctx, rec); err != nil {
		logger.Error().Err(err).Int64("record_id", rec.RecordID).Msg("failed to upsert snapshot")
	}
}
