package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"bondkeeper/internal/storage"
)

// snapshotCadence is the contract's minimum interval between snapshots.
const snapshotCadence = 24 * time.Hour

// Export renders stored snapshots as CSV, PNG and/or XLSX.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	from, to, err := exportWindow(opts, time.Now().UTC())
	if err != nil {
		return err
	}

	snaps, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	if opts.XLSXPath != "" {
		if err := writeSnapshotsXLSX(opts.XLSXPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func exportWindow(opts ExportOptions, now time.Time) (time.Time, time.Time, error) {
	to := now
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(opts.MaxPoints) * snapshotCadence)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsampleSnapshots(snaps []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

var snapshotHeader = []string{"record_id", "snapshot_ts", "total_supply", "treasury_balance", "coupon_due", "tx_hash", "block_number", "source"}

func snapshotRow(snap storage.SnapshotRecord) []string {
	block := ""
	if snap.BlockNumber != nil {
		block = strconv.FormatInt(*snap.BlockNumber, 10)
	}
	return []string{
		strconv.FormatInt(snap.RecordID, 10),
		snap.SnapshotTS.UTC().Format(time.RFC3339),
		snap.TotalSupply.String(),
		snap.TreasuryBalance.String(),
		snap.CouponDue.String(),
		snap.TxHash,
		block,
		snap.Source,
	}
}

func writeSnapshotsCSV(path string, snaps []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(snapshotHeader); err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := writer.Write(snapshotRow(snap)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	supply := make([]float64, len(snaps))
	treasury := make([]float64, len(snaps))
	coupon := make([]float64, len(snaps))

	for i, snap := range snaps {
		x[i] = snap.SnapshotTS
		supply[i] = snap.TotalSupply.InexactFloat64()
		treasury[i] = snap.TreasuryBalance.InexactFloat64()
		coupon[i] = snap.CouponDue.InexactFloat64()
	}
	// go-chart needs at least two points per series
	if len(x) == 1 {
		x = append(x, x[0].Add(time.Second))
		supply = append(supply, supply[0])
		treasury = append(treasury, treasury[0])
		coupon = append(coupon, coupon[0])
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Supply / Treasury",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Coupon Due",
			ValueFormatter: amountFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total Supply",
				XValues: x,
				YValues: supply,
			},
			chart.TimeSeries{
				Name:    "Treasury",
				XValues: x,
				YValues: treasury,
			},
			chart.TimeSeries{
				Name:    "Coupon Due",
				XValues: x,
				YValues: coupon,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeSnapshotsXLSX(path string, snaps []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "snapshots"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	for col, name := range snapshotHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return err
		}
	}
	for i, snap := range snaps {
		var block any
		if snap.BlockNumber != nil {
			block = *snap.BlockNumber
		}
		values := []any{
			snap.RecordID,
			snap.SnapshotTS.UTC().Format(time.RFC3339),
			snap.TotalSupply.InexactFloat64(),
			snap.TreasuryBalance.InexactFloat64(),
			snap.CouponDue.InexactFloat64(),
			snap.TxHash,
			block,
			snap.Source,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	return f.SaveAs(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
