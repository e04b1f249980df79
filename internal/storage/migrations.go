package storage

import (
	"context"
	"fmt"
)

const migrationSQL = `
CREATE TABLE IF NOT EXISTS keeper_runs (
    run_id      UUID PRIMARY KEY,
    pipeline    TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    result      TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    record_id   BIGINT,
    tx_hash     TEXT NOT NULL DEFAULT '',
    error       TEXT,
    details     JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS keeper_runs_started_at_idx ON keeper_runs (started_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
    record_id        BIGINT PRIMARY KEY,
    snapshot_ts      TIMESTAMPTZ NOT NULL,
    total_supply     NUMERIC NOT NULL,
    treasury_balance NUMERIC NOT NULL,
    coupon_due       NUMERIC NOT NULL,
    tx_hash          TEXT NOT NULL DEFAULT '',
    block_number     BIGINT,
    source           TEXT NOT NULL DEFAULT 'keeper',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS snapshots_ts_idx ON snapshots (snapshot_ts);

CREATE TABLE IF NOT EXISTS alerts (
    id         BIGSERIAL PRIMARY KEY,
    kind       TEXT NOT NULL,
    title      TEXT NOT NULL,
    status     TEXT NOT NULL,
    dedup_key  TEXT NOT NULL DEFAULT '',
    fields     JSONB NOT NULL DEFAULT '[]'::jsonb,
    error      TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at DESC);
`

// Migrate creates the keeper tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
