// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ledger

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// PostgresLedger applies each delta as a single INSERT ... ON
// CONFLICT DO UPDATE, so increments are atomic at the database
// level; no read-modify-write cycle exists for a concurrent
// admission check to interleave with.
type PostgresLedger struct {
	db *sqlx.DB
}

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (pl *PostgresLedger) apply(ctx context.Context, tenantID, nodeID string, res mpanel.Resources, pods int) error {
	_, err := pl.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (tenant_id, node_id, cores, memory_mb, disk_gb, pods)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, node_id) DO UPDATE SET
			cores = ledger_entries.cores + EXCLUDED.cores,
			memory_mb = ledger_entries.memory_mb + EXCLUDED.memory_mb,
			disk_gb = ledger_entries.disk_gb + EXCLUDED.disk_gb,
			pods = ledger_entries.pods + EXCLUDED.pods`,
		tenantID, nodeID, res.Cores, res.MemoryMB, res.DiskGB, pods)
	return err
}

func (pl *PostgresLedger) Reserve(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	return pl.apply(ctx, tenantID, nodeID, res, 1)
}

func (pl *PostgresLedger) Release(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	neg := mpanel.Resources{}.Sub(res)
	return pl.apply(ctx, tenantID, nodeID, neg, -1)
}

func (pl *PostgresLedger) UpdateAfterScale(ctx context.Context, tenantID, nodeID string, from, to mpanel.Resources) error {
	return pl.apply(ctx, tenantID, nodeID, to.Sub(from), 0)
}

func (pl *PostgresLedger) NodeUsage(ctx context.Context, nodeID string) (Usage, error) {
	return pl.usage(ctx, `node_id`, nodeID)
}

func (pl *PostgresLedger) TenantUsage(ctx context.Context, tenantID string) (Usage, error) {
	return pl.usage(ctx, `tenant_id`, tenantID)
}

func (pl *PostgresLedger) usage(ctx context.Context, column, value string) (Usage, error) {
	var row struct {
		mpanel.Resources
		Pods int `db:"pods"`
	}
	err := pl.db.GetContext(ctx, &row, `
		SELECT COALESCE(sum(cores), 0) AS cores,
			COALESCE(sum(memory_mb), 0) AS memory_mb,
			0 AS swap_mb,
			COALESCE(sum(disk_gb), 0) AS disk_gb,
			COALESCE(sum(pods), 0) AS pods
		FROM ledger_entries WHERE `+column+` = $1`, value)
	return Usage{Resources: row.Resources, Pods: row.Pods}, err
}

func (pl *PostgresLedger) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := pl.db.SelectContext(ctx, &entries, `
		SELECT tenant_id, node_id, cores, memory_mb, 0 AS swap_mb, disk_gb, pods
		FROM ledger_entries ORDER BY tenant_id, node_id`)
	return entries, err
}

func (pl *PostgresLedger) SetEntry(ctx context.Context, entry Entry) error {
	_, err := pl.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (tenant_id, node_id, cores, memory_mb, disk_gb, pods)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, node_id) DO UPDATE SET
			cores = EXCLUDED.cores,
			memory_mb = EXCLUDED.memory_mb,
			disk_gb = EXCLUDED.disk_gb,
			pods = EXCLUDED.pods`,
		entry.TenantID, entry.NodeID, entry.Cores, entry.MemoryMB, entry.DiskGB, entry.Pods)
	return err
}

// SetupDB creates the ledger_entries table if it does not exist
// yet.
func SetupDB(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			tenant_id text NOT NULL,
			node_id text NOT NULL,
			cores integer NOT NULL DEFAULT 0,
			memory_mb integer NOT NULL DEFAULT 0,
			disk_gb integer NOT NULL DEFAULT 0,
			pods integer NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, node_id)
		)`)
	return err
}
