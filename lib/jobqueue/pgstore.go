// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// PostgresStore is the durable Store. Claim relies on FOR UPDATE
// SKIP LOCKED so concurrent workers never block on, or receive,
// each other's rows; the conditional transitions are single UPDATE
// statements guarded by the expected current status.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, tenant_id, jtype, status, payload, attempts, max_attempts,
	last_error, result, worker_id, cloudpod_id, created_at, started_at, finished_at`

// COALESCE keeps database NULLs out of the json.RawMessage field.
const jobSelect = `id, tenant_id, jtype, status, payload, attempts, max_attempts,
	last_error, COALESCE(result, 'null') AS result, worker_id, cloudpod_id,
	created_at, started_at, finished_at`

func (ps *PostgresStore) Insert(ctx context.Context, job *mpanel.Job) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID, job.TenantID, job.Type, job.Status, []byte(job.Payload),
		job.Attempts, job.MaxAttempts, job.LastError, []byte(job.Result),
		job.WorkerID, job.CloudPodID, job.CreatedAt, job.StartedAt, job.FinishedAt)
	return err
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*mpanel.Job, error) {
	var job mpanel.Job
	err := ps.db.GetContext(ctx, &job, `SELECT `+jobSelect+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mpanel.InvalidStateError{Op: "get", ID: id, Current: "missing"}
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

func (ps *PostgresStore) List(ctx context.Context, t mpanel.JobType, status mpanel.JobStatus) ([]mpanel.Job, error) {
	query := `SELECT ` + jobSelect + ` FROM jobs WHERE ($1 = '' OR jtype = $1) AND ($2 = '' OR status = $2) ORDER BY created_at`
	var jobs []mpanel.Job
	err := ps.db.SelectContext(ctx, &jobs, query, string(t), string(status))
	return jobs, err
}

func (ps *PostgresStore) Claim(ctx context.Context, t mpanel.JobType, workerID string) (*mpanel.Job, error) {
	var job mpanel.Job
	err := ps.db.GetContext(ctx, &job, `
		UPDATE jobs SET status = 'running', worker_id = $2, started_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE jtype = $1 AND status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED)
		RETURNING `+jobSelect, string(t), workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

func (ps *PostgresStore) Finish(ctx context.Context, id string, status mpanel.JobStatus, result json.RawMessage, errmsg string) (*mpanel.Job, error) {
	var job mpanel.Job
	err := ps.db.GetContext(ctx, &job, `
		UPDATE jobs SET status = $2, result = $3, last_error = $4, finished_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING `+jobSelect, id, string(status), []byte(result), errmsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ps.invalidState(ctx, "finish", id)
	} else if err != nil {
		return nil, err
	}
	return &job, nil
}

func (ps *PostgresStore) Requeue(ctx context.Context, id string) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', attempts = attempts + 1,
			last_error = '', worker_id = '', started_at = NULL, finished_at = NULL
		WHERE id = $1 AND status = 'failed' AND attempts < max_attempts`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ps.invalidState(ctx, "retry", id)
	}
	return nil
}

func (ps *PostgresStore) Cancel(ctx context.Context, id string, errmsg string) error {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', attempts = max_attempts, last_error = $2, finished_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')`, id, errmsg)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ps.invalidState(ctx, "cancel", id)
	}
	return nil
}

func (ps *PostgresStore) SetCloudPod(ctx context.Context, id, podID string) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE jobs SET cloudpod_id = $2 WHERE id = $1`, id, podID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mpanel.InvalidStateError{Op: "link", ID: id, Current: "missing"}
	}
	return nil
}

func (ps *PostgresStore) HasActiveSweep(ctx context.Context) (bool, error) {
	var n int
	err := ps.db.GetContext(ctx, &n, `
		SELECT count(*) FROM jobs
		WHERE jtype = 'health' AND status IN ('queued', 'running')
		AND payload->>'fleet' = 'true'`)
	return n > 0, err
}

// invalidState reports why a conditional transition matched no
// rows: either the job does not exist, or its current status (or
// exhausted attempts) forbids the transition.
func (ps *PostgresStore) invalidState(ctx context.Context, op, id string) error {
	var status string
	err := ps.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return mpanel.InvalidStateError{Op: op, ID: id, Current: "missing"}
	} else if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	return mpanel.InvalidStateError{Op: op, ID: id, Current: status}
}

// SetupDB creates the jobs table if it does not exist yet.
func SetupDB(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id uuid PRIMARY KEY,
			tenant_id text NOT NULL,
			jtype text NOT NULL,
			status text NOT NULL,
			payload jsonb NOT NULL,
			attempts integer NOT NULL DEFAULT 0,
			max_attempts integer NOT NULL,
			last_error text NOT NULL DEFAULT '',
			result jsonb,
			worker_id text NOT NULL DEFAULT '',
			cloudpod_id text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL,
			started_at timestamptz,
			finished_at timestamptz
		);
		CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs (jtype, created_at) WHERE status = 'queued'`)
	return err
}
