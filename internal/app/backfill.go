package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bondkeeper/internal/chain"
	"bondkeeper/internal/storage"
	"bondkeeper/internal/units"
)

const defaultBackfillChunk uint64 = 5000

// eventSource is the part of the chain client backfill needs.
type eventSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, name string, fromBlock, toBlock uint64) ([]chain.Event, error)
}

// Backfill 扫描 SnapshotRecorded 事件并写入 snapshots 表。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	bond, err := a.newChain()
	if err != nil {
		return err
	}
	defer bond.Close()

	var snapStore storage.SnapshotStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn 未配置，无法回填")
		}
		defer closeStore()
		snapStore = store
	}

	stored, err := backfillSnapshots(ctx, bond, snapStore, opts, a.Logger)
	if err != nil {
		return err
	}
	event := a.Logger.Info().Int("snapshots", stored)
	if snapStore != nil {
		total, err := snapStore.CountSnapshots(ctx)
		if err != nil {
			return err
		}
		event = event.Int64("stored_total", total)
	}
	event.Msg("回填完成")
	return nil
}

func backfillSnapshots(ctx context.Context, src eventSource, store storage.SnapshotStore, opts BackfillOptions, logger zerolog.Logger) (int, error) {
	end := opts.ToBlock
	if end == 0 {
		head, err := src.BlockNumber(ctx)
		if err != nil {
			return 0, err
		}
		end = head
	}
	if opts.FromBlock > end {
		return 0, fmt.Errorf("回填范围为空: from %d > to %d", opts.FromBlock, end)
	}

	chunk := opts.ChunkSize
	if chunk == 0 {
		chunk = defaultBackfillChunk
	}

	found := 0
	failed := 0
	for start := opts.FromBlock; start <= end; start += chunk {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		stop := start + chunk - 1
		if stop > end || stop < start {
			stop = end
		}

		events, err := src.QueryEvents(ctx, chain.EventSnapshotRecorded, start, stop)
		if err != nil {
			return found, fmt.Errorf("query blocks %d-%d: %w", start, stop, err)
		}
		logger.Debug().Uint64("from", start).Uint64("to", stop).Int("events", len(events)).Msg("scanned block range")

		for _, ev := range events {
			rec, err := snapshotFromEvent(ev)
			if err != nil {
				failed++
				logger.Error().Err(err).Str("tx", ev.TxHash.Hex()).Msg("skip undecodable event")
				continue
			}
			found++
			if store == nil {
				logger.Info().Int64("record_id", rec.RecordID).Uint64("block", ev.BlockNumber).Msg("dry-run snapshot")
				continue
			}
			if err := store.UpsertSnapshot(ctx, rec); err != nil {
				return found, err
			}
		}

		if stop == end {
			break
		}
	}

	if failed > 0 {
		return found, fmt.Errorf("%d 个事件无法解析，请检查日志", failed)
	}
	return found, nil
}

func snapshotFromEvent(ev chain.Event) (storage.SnapshotRecord, error) {
	recordID := ev.Uint("recordId")
	supply := ev.Uint("totalSupply")
	treasury := ev.Uint("treasuryBalance")
	ts := ev.Uint("timestamp")
	if recordID == nil || supply == nil || treasury == nil || ts == nil {
		return storage.SnapshotRecord{}, fmt.Errorf("snapshot event missing fields: %v", ev.Fields)
	}
	if !recordID.IsInt64() {
		return storage.SnapshotRecord{}, fmt.Errorf("record id out of range: %s", recordID)
	}

	block := int64(ev.BlockNumber)
	return storage.SnapshotRecord{
		RecordID:        recordID.Int64(),
		SnapshotTS:      time.Unix(ts.Int64(), 0).UTC(),
		TotalSupply:     units.ToDecimal(supply, units.ShareDecimals),
		TreasuryBalance: units.ToDecimal(treasury, units.StableDecimals),
		CouponDue:       units.ToDecimal(units.CouponDue(supply), units.StableDecimals),
		TxHash:          ev.TxHash.Hex(),
		BlockNumber:     &block,
		Source:          "backfill",
	}, nil
}
