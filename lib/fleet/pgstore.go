// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package fleet

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

const nodeSelect = `id, name, address, remote_user, total_cores, total_memory_mb,
	total_disk_gb, role, region, active, max_cloudpods`

func (ps *PostgresStore) All(ctx context.Context) ([]mpanel.Node, error) {
	var nodes []mpanel.Node
	err := ps.db.SelectContext(ctx, &nodes, `SELECT `+nodeSelect+` FROM nodes ORDER BY name`)
	return nodes, err
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*mpanel.Node, error) {
	var node mpanel.Node
	err := ps.db.GetContext(ctx, &node, `SELECT `+nodeSelect+` FROM nodes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mpanel.InvalidStateError{Op: "get node", ID: id, Current: "missing"}
	} else if err != nil {
		return nil, err
	}
	return &node, nil
}

// SetupDB creates the nodes table if it does not exist yet.
func SetupDB(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS nodes (
			id text PRIMARY KEY,
			name text NOT NULL,
			address text NOT NULL,
			remote_user text NOT NULL DEFAULT 'root',
			total_cores integer NOT NULL,
			total_memory_mb integer NOT NULL,
			total_disk_gb integer NOT NULL,
			role text NOT NULL DEFAULT 'hypervisor',
			region text NOT NULL DEFAULT '',
			active boolean NOT NULL DEFAULT true,
			max_cloudpods integer NOT NULL DEFAULT 50
		)`)
	return err
}
