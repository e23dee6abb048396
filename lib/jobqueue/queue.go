// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package jobqueue implements the durable, typed, retryable task
// queue that drives all CloudPod orchestration work.
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// A Store persists jobs and performs the atomic state transitions
// the queue's contract requires. Implementations must guarantee
// that Claim never hands the same queued job to two callers, and
// that the conditional transitions (Finish, Requeue, Cancel) check
// their precondition and mutate in one atomic step, returning
// mpanel.InvalidStateError when the precondition does not hold.
type Store interface {
	Insert(ctx context.Context, job *mpanel.Job) error
	Get(ctx context.Context, id string) (*mpanel.Job, error)
	List(ctx context.Context, t mpanel.JobType, status mpanel.JobStatus) ([]mpanel.Job, error)

	// Claim atomically selects the oldest queued job of the
	// given type, marks it running, and returns it. Returns
	// (nil, nil) when no job is available.
	Claim(ctx context.Context, t mpanel.JobType, workerID string) (*mpanel.Job, error)

	// Finish transitions running -> success|failed and returns
	// the updated job.
	Finish(ctx context.Context, id string, status mpanel.JobStatus, result json.RawMessage, errmsg string) (*mpanel.Job, error)

	// Requeue transitions failed -> queued, increments
	// attempts, and clears error, worker and timestamps. Only
	// valid while attempts < max attempts.
	Requeue(ctx context.Context, id string) error

	// Cancel transitions queued|running -> failed with the
	// given error message.
	Cancel(ctx context.Context, id string, errmsg string) error

	// SetCloudPod links a job to the pod it created or operated
	// on.
	SetCloudPod(ctx context.Context, id, podID string) error

	// HasActiveSweep reports whether a fleet-wide health job is
	// still queued or running.
	HasActiveSweep(ctx context.Context) (bool, error)
}

// Queue validates payloads, applies per-type policy, and records
// metrics around a Store.
type Queue struct {
	logger logrus.FieldLogger
	store  Store

	mEnqueued *prometheus.CounterVec
	mFinished *prometheus.CounterVec
}

func NewQueue(logger logrus.FieldLogger, reg *prometheus.Registry, store Store) *Queue {
	q := &Queue{
		logger: logger,
		store:  store,
		mEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpanel",
			Subsystem: "jobqueue",
			Name:      "jobs_enqueued_total",
			Help:      "Number of jobs accepted into the queue.",
		}, []string{"jtype"}),
		mFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpanel",
			Subsystem: "jobqueue",
			Name:      "jobs_finished_total",
			Help:      "Number of jobs that reached a terminal state.",
		}, []string{"jtype", "status"}),
	}
	if reg != nil {
		reg.MustRegister(q.mEnqueued, q.mFinished)
	}
	return q
}

// Enqueue validates the payload and creates a queued job with
// attempts=0. The payload is immutable from here on.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, payload mpanel.Payload) (*mpanel.Job, error) {
	raw, err := mpanel.MarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	job := &mpanel.Job{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Type:        payload.JobType(),
		Status:      mpanel.JobQueued,
		Payload:     raw,
		MaxAttempts: PolicyFor(payload.JobType()).MaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	q.mEnqueued.WithLabelValues(string(job.Type)).Inc()
	q.logger.WithFields(logrus.Fields{
		"JobID":    job.ID,
		"JobType":  job.Type,
		"TenantID": tenantID,
	}).Info("job enqueued")
	return job, nil
}

// ClaimNext atomically claims the oldest queued job of the given
// type for the given worker identity, or returns (nil, nil) when
// the queue is empty.
func (q *Queue) ClaimNext(ctx context.Context, t mpanel.JobType, workerID string) (*mpanel.Job, error) {
	return q.store.Claim(ctx, t, workerID)
}

// Complete transitions running -> success.
func (q *Queue) Complete(ctx context.Context, id string, result json.RawMessage) error {
	job, err := q.store.Finish(ctx, id, mpanel.JobSuccess, result, "")
	if err == nil {
		q.mFinished.WithLabelValues(string(job.Type), string(mpanel.JobSuccess)).Inc()
	}
	return err
}

// Fail transitions running -> failed, recording the error message.
func (q *Queue) Fail(ctx context.Context, id string, errmsg string) error {
	job, err := q.store.Finish(ctx, id, mpanel.JobFailed, nil, errmsg)
	if err == nil {
		q.mFinished.WithLabelValues(string(job.Type), string(mpanel.JobFailed)).Inc()
	}
	return err
}

// Retry requeues a failed job that has attempts left. This is the
// only path by which a failed job re-enters the active pool,
// whether invoked by an operator or by a worker's backoff timer.
func (q *Queue) Retry(ctx context.Context, id string) error {
	return q.store.Requeue(ctx, id)
}

// Cancel force-fails a queued or running job. Work already
// performed by the worker is not rolled back.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.store.Cancel(ctx, id, "cancelled")
}

func (q *Queue) Get(ctx context.Context, id string) (*mpanel.Job, error) {
	return q.store.Get(ctx, id)
}

// List returns jobs filtered by type and/or status; empty values
// match everything.
func (q *Queue) List(ctx context.Context, t mpanel.JobType, status mpanel.JobStatus) ([]mpanel.Job, error) {
	return q.store.List(ctx, t, status)
}

// SetCloudPod links the job to a pod id.
func (q *Queue) SetCloudPod(ctx context.Context, id, podID string) error {
	return q.store.SetCloudPod(ctx, id, podID)
}

// HasActiveSweep reports whether a fleet-wide health sweep is
// already queued or running.
func (q *Queue) HasActiveSweep(ctx context.Context) (bool, error) {
	return q.store.HasActiveSweep(ctx)
}
