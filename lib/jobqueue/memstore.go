// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package jobqueue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// MemStore is an in-memory Store, used by tests and by the
// engine's ephemeral mode. All transitions happen under one mutex,
// which gives the same atomicity the PostgreSQL store gets from
// row locking.
type MemStore struct {
	mtx  sync.Mutex
	jobs map[string]*mpanel.Job
	seq  int64
	ord  map[string]int64 // insertion order, tiebreak for equal CreatedAt
}

func NewMemStore() *MemStore {
	return &MemStore{
		jobs: map[string]*mpanel.Job{},
		ord:  map[string]int64{},
	}
}

func copyJob(job *mpanel.Job) *mpanel.Job {
	j := *job
	return &j
}

func (ms *MemStore) Insert(ctx context.Context, job *mpanel.Job) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	ms.seq++
	ms.ord[job.ID] = ms.seq
	ms.jobs[job.ID] = copyJob(job)
	return nil
}

func (ms *MemStore) Get(ctx context.Context, id string) (*mpanel.Job, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	job, ok := ms.jobs[id]
	if !ok {
		return nil, mpanel.InvalidStateError{Op: "get", ID: id, Current: "missing"}
	}
	return copyJob(job), nil
}

func (ms *MemStore) List(ctx context.Context, t mpanel.JobType, status mpanel.JobStatus) ([]mpanel.Job, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var out []mpanel.Job
	for _, job := range ms.jobs {
		if t != "" && job.Type != t {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *copyJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return ms.ord[out[i].ID] < ms.ord[out[j].ID]
	})
	return out, nil
}

func (ms *MemStore) Claim(ctx context.Context, t mpanel.JobType, workerID string) (*mpanel.Job, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	var oldest *mpanel.Job
	for _, job := range ms.jobs {
		if job.Type != t || job.Status != mpanel.JobQueued {
			continue
		}
		if oldest == nil ||
			job.CreatedAt.Before(oldest.CreatedAt) ||
			(job.CreatedAt.Equal(oldest.CreatedAt) && ms.ord[job.ID] < ms.ord[oldest.ID]) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	oldest.Status = mpanel.JobRunning
	oldest.StartedAt = &now
	oldest.WorkerID = workerID
	return copyJob(oldest), nil
}

func (ms *MemStore) Finish(ctx context.Context, id string, status mpanel.JobStatus, result json.RawMessage, errmsg string) (*mpanel.Job, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	job, ok := ms.jobs[id]
	if !ok {
		return nil, mpanel.InvalidStateError{Op: "finish", ID: id, Current: "missing"}
	}
	if job.Status != mpanel.JobRunning {
		return nil, mpanel.InvalidStateError{Op: "finish", ID: id, Current: string(job.Status)}
	}
	now := time.Now().UTC()
	job.Status = status
	job.Result = result
	job.LastError = errmsg
	job.FinishedAt = &now
	return copyJob(job), nil
}

func (ms *MemStore) Requeue(ctx context.Context, id string) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	job, ok := ms.jobs[id]
	if !ok {
		return mpanel.InvalidStateError{Op: "retry", ID: id, Current: "missing"}
	}
	if job.Status != mpanel.JobFailed || job.Attempts >= job.MaxAttempts {
		return mpanel.InvalidStateError{Op: "retry", ID: id, Current: string(job.Status)}
	}
	job.Status = mpanel.JobQueued
	job.Attempts++
	job.LastError = ""
	job.WorkerID = ""
	job.StartedAt = nil
	job.FinishedAt = nil
	return nil
}

func (ms *MemStore) Cancel(ctx context.Context, id string, errmsg string) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	job, ok := ms.jobs[id]
	if !ok {
		return mpanel.InvalidStateError{Op: "cancel", ID: id, Current: "missing"}
	}
	if job.Status != mpanel.JobQueued && job.Status != mpanel.JobRunning {
		return mpanel.InvalidStateError{Op: "cancel", ID: id, Current: string(job.Status)}
	}
	now := time.Now().UTC()
	job.Status = mpanel.JobFailed
	// Exhaust the attempt budget so a cancelled job cannot be
	// requeued.
	job.Attempts = job.MaxAttempts
	job.LastError = errmsg
	job.FinishedAt = &now
	return nil
}

func (ms *MemStore) SetCloudPod(ctx context.Context, id, podID string) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	job, ok := ms.jobs[id]
	if !ok {
		return mpanel.InvalidStateError{Op: "link", ID: id, Current: "missing"}
	}
	job.CloudPodID = podID
	return nil
}

func (ms *MemStore) HasActiveSweep(ctx context.Context) (bool, error) {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()
	for _, job := range ms.jobs {
		if job.Type != mpanel.JobTypeHealth || job.Status.Final() {
			continue
		}
		var p mpanel.HealthPayload
		if err := json.Unmarshal(job.Payload, &p); err == nil && p.Fleet {
			return true, nil
		}
	}
	return false, nil
}
