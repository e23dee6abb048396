// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package mpanel provides the data model shared by the CloudPod
// provisioning engine's components and its external callers.
package mpanel

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeCreate  JobType = "create"
	JobTypeScale   JobType = "scale"
	JobTypeDestroy JobType = "destroy"
	JobTypeBackup  JobType = "backup"
	JobTypeHealth  JobType = "health"
)

// JobTypes lists every job type, in the order worker pools are
// started.
var JobTypes = []JobType{JobTypeCreate, JobTypeScale, JobTypeDestroy, JobTypeBackup, JobTypeHealth}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Final reports whether a job status is terminal. A failed job can
// still be requeued by an explicit Retry, but until that happens it
// is out of the active pool.
func (st JobStatus) Final() bool {
	return st == JobSuccess || st == JobFailed
}

// A Job is a queued, typed, retryable unit of orchestration work.
//
// Payload is immutable once the job is enqueued; only Status,
// Attempts, LastError, Result, WorkerID and the timestamps mutate.
type Job struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Type        JobType         `json:"jtype" db:"jtype"`
	Status      JobStatus       `json:"status" db:"status"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	LastError   string          `json:"last_error" db:"last_error"`
	Result      json.RawMessage `json:"result" db:"result"`
	WorkerID    string          `json:"worker_id" db:"worker_id"`
	CloudPodID  string          `json:"cloudpod_id" db:"cloudpod_id"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	StartedAt   *time.Time      `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at" db:"finished_at"`
}
