package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"bondkeeper/internal/storage"
)

// Show prints recent snapshots, keeper runs (opts.Runs) or audited alerts (opts.Alerts).
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	switch {
	case opts.Runs:
		runs, err := store.ListRecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printRuns(out, runs)
	case opts.Alerts:
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return printAlerts(out, alerts)
	}

	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	total, err := store.CountSnapshots(ctx)
	if err != nil {
		return err
	}
	if err := printSnapshots(out, snaps); err != nil {
		return err
	}
	if len(snaps) > 0 {
		fmt.Fprintf(out, "\nshowing %d of %d stored snapshots\n", len(snaps), total)
	}
	return nil
}

func printSnapshots(out io.Writer, snaps []storage.SnapshotRecord) error {
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Record\tTime (UTC)\tTotal Supply\tTreasury\tCoupon Due\tSource\tTx")
	for _, snap := range snaps {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.RecordID,
			snap.SnapshotTS.UTC().Format(time.RFC3339),
			snap.TotalSupply.StringFixed(2),
			snap.TreasuryBalance.StringFixed(2),
			snap.CouponDue.StringFixed(6),
			snap.Source,
			snap.TxHash,
		)
	}
	return writer.Flush()
}

func printRuns(out io.Writer, runs []storage.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tPipeline\tResult\tReason\tDuration\tRecord\tError")
	for _, run := range runs {
		record := "-"
		if run.RecordID != nil {
			record = fmt.Sprintf("%d", *run.RecordID)
		}
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Pipeline,
			run.Result,
			run.Reason,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			record,
			errMsg,
		)
	}
	return writer.Flush()
}

func printAlerts(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tStatus\tTitle\tDedup Key\tError")
	for _, alert := range alerts {
		errMsg := ""
		if alert.Error != nil {
			errMsg = sanitizeInline(*alert.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Kind,
			alert.Status,
			sanitizeInline(alert.Title),
			alert.DedupKey,
			errMsg,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
