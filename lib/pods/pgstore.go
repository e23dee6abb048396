// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package pods

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// podRow flattens CloudPod.Res for sqlx scanning.
type podRow struct {
	mpanel.CloudPod
	mpanel.Resources
}

func (row podRow) pod() mpanel.CloudPod {
	pod := row.CloudPod
	pod.Res = row.Resources
	return pod
}

const podSelect = `id, tenant_id, vmid, hostname, ip, node_id, status,
	cores, memory_mb, swap_mb, disk_gb,
	created_at, deleted_at, last_backup_at, last_health_status, last_health_at`

func (ps *PostgresStore) Insert(ctx context.Context, pod *mpanel.CloudPod) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO cloudpods (`+podSelect+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		pod.ID, pod.TenantID, pod.VMID, pod.Hostname, pod.IP, pod.NodeID, pod.Status,
		pod.Res.Cores, pod.Res.MemoryMB, pod.Res.SwapMB, pod.Res.DiskGB,
		pod.CreatedAt, pod.DeletedAt, pod.LastBackupAt, pod.LastHealthStatus, pod.LastHealthAt)
	return err
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*mpanel.CloudPod, error) {
	var row podRow
	err := ps.db.GetContext(ctx, &row, `SELECT `+podSelect+` FROM cloudpods WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mpanel.InvalidStateError{Op: "get pod", ID: id, Current: "missing"}
	} else if err != nil {
		return nil, err
	}
	pod := row.pod()
	return &pod, nil
}

func (ps *PostgresStore) Update(ctx context.Context, pod *mpanel.CloudPod) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE cloudpods SET hostname = $2, ip = $3, node_id = $4, status = $5,
			cores = $6, memory_mb = $7, swap_mb = $8, disk_gb = $9,
			deleted_at = $10, last_backup_at = $11,
			last_health_status = $12, last_health_at = $13
		WHERE id = $1`,
		pod.ID, pod.Hostname, pod.IP, pod.NodeID, pod.Status,
		pod.Res.Cores, pod.Res.MemoryMB, pod.Res.SwapMB, pod.Res.DiskGB,
		pod.DeletedAt, pod.LastBackupAt, pod.LastHealthStatus, pod.LastHealthAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mpanel.InvalidStateError{Op: "update pod", ID: pod.ID, Current: "missing"}
	}
	return nil
}

func (ps *PostgresStore) List(ctx context.Context, filter ListFilter) ([]mpanel.CloudPod, error) {
	var rows []podRow
	err := ps.db.SelectContext(ctx, &rows, `
		SELECT `+podSelect+` FROM cloudpods
		WHERE ($1 = '' OR tenant_id = $1)
		AND ($2 = '' OR node_id = $2)
		AND (NOT $3 OR status IN ('provisioning', 'active', 'suspended', 'deleting'))
		ORDER BY created_at`,
		filter.TenantID, filter.NodeID, filter.OnlyReserved)
	if err != nil {
		return nil, err
	}
	pods := make([]mpanel.CloudPod, len(rows))
	for i, row := range rows {
		pods[i] = row.pod()
	}
	return pods, nil
}

func (ps *PostgresStore) VMIDsOnNode(ctx context.Context, nodeID string) ([]int, error) {
	var ids []int
	err := ps.db.SelectContext(ctx, &ids, `
		SELECT vmid FROM cloudpods WHERE node_id = $1 AND status <> 'deleted'`, nodeID)
	return ids, err
}

func (ps *PostgresStore) UsedIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := ps.db.SelectContext(ctx, &ips, `
		SELECT ip FROM cloudpods WHERE status <> 'deleted' AND ip <> ''`)
	return ips, err
}

func (ps *PostgresStore) CountOnNode(ctx context.Context, nodeID string) (int, error) {
	var n int
	err := ps.db.GetContext(ctx, &n, `
		SELECT count(*) FROM cloudpods
		WHERE node_id = $1 AND status IN ('provisioning', 'active', 'suspended', 'deleting')`, nodeID)
	return n, err
}

func (ps *PostgresStore) AddEvent(ctx context.Context, ev *mpanel.CloudPodEvent) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO cloudpod_events (id, tenant_id, cloudpod_id, etype, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.TenantID, ev.CloudPodID, ev.Type, ev.Message, []byte(ev.Data), ev.CreatedAt)
	return err
}

func (ps *PostgresStore) ListEvents(ctx context.Context, podID string) ([]mpanel.CloudPodEvent, error) {
	var evs []mpanel.CloudPodEvent
	err := ps.db.SelectContext(ctx, &evs, `
		SELECT id, tenant_id, cloudpod_id, etype, message, COALESCE(data, 'null') AS data, created_at
		FROM cloudpod_events
		WHERE ($1 = '' OR cloudpod_id = $1)
		ORDER BY created_at`, podID)
	return evs, err
}

// SetupDB creates the cloudpods and cloudpod_events tables if they
// do not exist yet.
func SetupDB(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cloudpods (
			id uuid PRIMARY KEY,
			tenant_id text NOT NULL,
			vmid integer NOT NULL,
			hostname text NOT NULL,
			ip text NOT NULL DEFAULT '',
			node_id text NOT NULL,
			status text NOT NULL,
			cores integer NOT NULL,
			memory_mb integer NOT NULL,
			swap_mb integer NOT NULL DEFAULT 0,
			disk_gb integer NOT NULL,
			created_at timestamptz NOT NULL,
			deleted_at timestamptz,
			last_backup_at timestamptz,
			last_health_status text NOT NULL DEFAULT '',
			last_health_at timestamptz
		);
		CREATE INDEX IF NOT EXISTS cloudpods_node_idx ON cloudpods (node_id) WHERE status <> 'deleted';
		CREATE TABLE IF NOT EXISTS cloudpod_events (
			id uuid PRIMARY KEY,
			tenant_id text NOT NULL,
			cloudpod_id text NOT NULL DEFAULT '',
			etype text NOT NULL,
			message text NOT NULL,
			data jsonb,
			created_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS cloudpod_events_pod_idx ON cloudpod_events (cloudpod_id, created_at)`)
	return err
}
