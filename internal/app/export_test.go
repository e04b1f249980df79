package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"bondkeeper/internal/storage"
)

func sampleSnapshots(n int) []storage.SnapshotRecord {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.SnapshotRecord, n)
	for i := range out {
		block := int64(1000 + i)
		out[i] = storage.SnapshotRecord{
			RecordID:        int64(i),
			SnapshotTS:      start.Add(time.Duration(i) * 24 * time.Hour),
			TotalSupply:     decimal.NewFromInt(int64(100 * (i + 1))),
			TreasuryBalance: decimal.NewFromInt(50),
			CouponDue:       decimal.NewFromInt(int64(i + 1)),
			TxHash:          "0xabc",
			BlockNumber:     &block,
			Source:          "keeper",
		}
	}
	return out
}

func TestDownsampleSnapshots(t *testing.T) {
	snaps := sampleSnapshots(10)

	require.Len(t, downsampleSnapshots(snaps, 0), 10)
	require.Len(t, downsampleSnapshots(snaps, 20), 10)

	one := downsampleSnapshots(snaps, 1)
	require.Len(t, one, 1)
	require.EqualValues(t, 9, one[0].RecordID)

	three := downsampleSnapshots(snaps, 3)
	require.Len(t, three, 3)
	require.EqualValues(t, 0, three[0].RecordID)
	require.EqualValues(t, 9, three[2].RecordID)
}

func TestExportWindow(t *testing.T) {
	now := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC)

	from, to, err := exportWindow(ExportOptions{MaxPoints: 7}, now)
	require.NoError(t, err)
	require.Equal(t, now, to)
	require.Equal(t, now.Add(-7*24*time.Hour), from)

	explicit := now.Add(-time.Hour)
	from, _, err = exportWindow(ExportOptions{From: &explicit, MaxPoints: 7}, now)
	require.NoError(t, err)
	require.Equal(t, explicit, from)

	later := now.Add(time.Hour)
	_, _, err = exportWindow(ExportOptions{From: &later, To: &now}, now)
	require.Error(t, err)
}

func TestWriteSnapshotsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.csv")
	require.NoError(t, writeSnapshotsCSV(path, sampleSnapshots(2)))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, snapshotHeader, rows[0])
	require.Equal(t, []string{"1", "2025-10-02T00:00:00Z", "200", "50", "2", "0xabc", "1001", "keeper"}, rows[2])
}

func TestWriteSnapshotsXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.xlsx")
	require.NoError(t, writeSnapshotsXLSX(path, sampleSnapshots(3)))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("snapshots", "A1")
	require.NoError(t, err)
	require.Equal(t, "record_id", header)

	source, err := f.GetCellValue("snapshots", "H4")
	require.NoError(t, err)
	require.Equal(t, "keeper", source)
}

func TestWriteSnapshotsXLSXRows(t *testing.T) {
	snaps := sampleSnapshots(2)
	snaps[1].BlockNumber = nil
	path := filepath.Join(t.TempDir(), "rows.xlsx")
	require.NoError(t, writeSnapshotsXLSX(path, snaps))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("snapshots")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"0", "2025-10-01T00:00:00Z", "100", "50", "1", "0xabc", "1000", "keeper"}, rows[1])

	block, err := f.GetCellValue("snapshots", "G3")
	require.NoError(t, err)
	require.Empty(t, block, "missing block number leaves the cell empty")

	source, err := f.GetCellValue("snapshots", "H3")
	require.NoError(t, err)
	require.Equal(t, "keeper", source)
}

func TestWriteSnapshotsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.png")
	require.NoError(t, writeSnapshotsPNG(path, sampleSnapshots(5)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestPrintSnapshotsAndRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSnapshots(&buf, nil))
	require.Equal(t, "no snapshots found\n", buf.String())

	buf.Reset()
	require.NoError(t, printSnapshots(&buf, sampleSnapshots(1)))
	require.Contains(t, buf.String(), "100.00")
	require.Contains(t, buf.String(), "1.000000")

	msg := "line one\nline two"
	record := int64(3)
	started := time.Date(2025, 10, 18, 0, 0, 0, 0, time.UTC)
	buf.Reset()
	require.NoError(t, printRuns(&buf, []storage.RunRecord{{
		Pipeline:   "snapshot",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Result:     storage.ResultFailure,
		Reason:     "error",
		RecordID:   &record,
		Error:      &msg,
	}}))
	out := buf.String()
	require.Contains(t, out, "line one line two")
	require.Contains(t, out, "1.5s")
	require.Equal(t, 2, strings.Count(out, "\n"))
}
