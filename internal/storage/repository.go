package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bondkeeper/internal/alerting"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertRunSQL = `INSERT INTO keeper_runs (
        run_id,
        pipeline,
        started_at,
        finished_at,
        result,
        reason,
        record_id,
        tx_hash,
        error,
        details
    ) VALUES (
        $1::uuid,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentRunsSQL = `SELECT
        run_id::text,
        pipeline,
        started_at,
        finished_at,
        result,
        reason,
        record_id,
        tx_hash,
        error,
        details
    FROM keeper_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	upsertSnapshotSQL = `INSERT INTO snapshots (
        record_id,
        snapshot_ts,
        total_supply,
        treasury_balance,
        coupon_due,
        tx_hash,
        block_number,
        source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (record_id) DO UPDATE
    SET
        snapshot_ts      = EXCLUDED.snapshot_ts,
        total_supply     = EXCLUDED.total_supply,
        treasury_balance = EXCLUDED.treasury_balance,
        coupon_due       = EXCLUDED.coupon_due,
        tx_hash          = COALESCE(NULLIF(EXCLUDED.tx_hash, ''), snapshots.tx_hash),
        block_number     = COALESCE(EXCLUDED.block_number, snapshots.block_number);`

	snapshotColumns = `record_id,
        snapshot_ts,
        total_supply::text,
        treasury_balance::text,
        coupon_due::text,
        tx_hash,
        block_number,
        source,
        created_at`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots
    WHERE snapshot_ts >= $1
      AND snapshot_ts < $2
    ORDER BY snapshot_ts;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM snapshots
    ORDER BY record_id DESC
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM snapshots;`

	insertAlertSQL = `INSERT INTO alerts (
        kind,
        title,
        status,
        dedup_key,
        fields,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        kind,
        title,
        status,
        dedup_key,
        fields,
        error,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore persists pipeline invocations.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// SnapshotStore defines operations for snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap SnapshotRecord) error
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to runs, snapshots and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the session lock goes away with the connection anyway
			conn.Conn().Close(ctxUnlock) //nolint:errcheck
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRun records a finished pipeline invocation.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	details := run.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, execErr := pool.Exec(ctx, insertRunSQL,
		run.ID,
		run.Pipeline,
		run.StartedAt,
		run.FinishedAt,
		run.Result,
		run.Reason,
		nullableInt(run.RecordID),
		run.TxHash,
		nullableString(run.Error),
		[]byte(details),
	)
	if execErr != nil {
		return fmt.Errorf("insert run: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists the latest runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			run      RunRecord
			recordID sql.NullInt64
			errMsg   sql.NullString
			details  []byte
		)
		if err := rows.Scan(
			&run.ID,
			&run.Pipeline,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Result,
			&run.Reason,
			&recordID,
			&run.TxHash,
			&errMsg,
			&details,
		); err != nil {
			return nil, err
		}
		if recordID.Valid {
			value := recordID.Int64
			run.RecordID = &value
		}
		if errMsg.Valid {
			msg := errMsg.String
			run.Error = &msg
		}
		run.Details = json.RawMessage(details)
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// UpsertSnapshot persists or refreshes a snapshot row.
func (s *Store) UpsertSnapshot(ctx context.Context, snap SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	source := snap.Source
	if source == "" {
		source = "keeper"
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.RecordID,
		snap.SnapshotTS,
		snap.TotalSupply.String(),
		snap.TreasuryBalance.String(),
		snap.CouponDue.String(),
		snap.TxHash,
		nullableInt(snap.BlockNumber),
		source,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots ordered by descending record id.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	return collectSnapshots(rows, limit)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	fields := alert.Fields
	if len(fields) == 0 {
		fields = json.RawMessage(`[]`)
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Kind,
		alert.Title,
		alert.Status,
		alert.DedupKey,
		[]byte(fields),
		nullableString(alert.Error),
	)

	rec := alert
	rec.Fields = fields
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// AuditAlert records a dispatcher decision.
func (s *Store) AuditAlert(ctx context.Context, note alerting.Notification, status string, deliveryErr error) error {
	fields, err := json.Marshal(note.Fields)
	if err != nil {
		return fmt.Errorf("marshal alert fields: %w", err)
	}
	rec := AlertRecord{
		Kind:     note.Kind,
		Title:    note.Title,
		Status:   status,
		DedupKey: note.DedupKey,
		Fields:   fields,
	}
	if deliveryErr != nil {
		msg := deliveryErr.Error()
		rec.Error = &msg
	}
	_, err = s.InsertAlert(ctx, rec)
	return err
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec    AlertRecord
			fields []byte
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&rec.Title,
			&rec.Status,
			&rec.DedupKey,
			&fields,
			&errMsg,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Fields = json.RawMessage(fields)
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore prunes audit rows older than olderThan and reports how many went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]SnapshotRecord, error) {
	snaps := make([]SnapshotRecord, 0, capacity)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		recordID    int64
		snapshotTS  time.Time
		supplyStr   string
		treasuryStr string
		couponStr   string
		txHash      string
		block       sql.NullInt64
		source      string
		createdAt   time.Time
	)

	if err := rows.Scan(
		&recordID,
		&snapshotTS,
		&supplyStr,
		&treasuryStr,
		&couponStr,
		&txHash,
		&block,
		&source,
		&createdAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	supply, err := decimal.NewFromString(supplyStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse total supply: %w", err)
	}
	treasury, err := decimal.NewFromString(treasuryStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse treasury balance: %w", err)
	}
	coupon, err := decimal.NewFromString(couponStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse coupon due: %w", err)
	}

	snap := SnapshotRecord{
		RecordID:        recordID,
		SnapshotTS:      snapshotTS,
		TotalSupply:     supply,
		TreasuryBalance: treasury,
		CouponDue:       coupon,
		TxHash:          txHash,
		Source:          source,
		CreatedAt:       createdAt,
	}
	if block.Valid {
		value := block.Int64
		snap.BlockNumber = &value
	}
	return snap, nil
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

var (
	_ RunStore         = (*Store)(nil)
	_ SnapshotStore    = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
	_ alerting.Auditor = (*Store)(nil)
)
