// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package jobqueue

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&QueueSuite{})

type QueueSuite struct {
	queue *Queue
	ctx   context.Context
}

func (s *QueueSuite) SetUpTest(c *check.C) {
	s.queue = NewQueue(ctxlog.TestLogger(c), prometheus.NewRegistry(), NewMemStore())
	s.ctx = context.Background()
}

func validCreate() mpanel.CreatePayload {
	return mpanel.CreatePayload{
		Cores:       1,
		MemoryMB:    1024,
		DiskGB:      20,
		Hostname:    "pod1.example.net",
		RequestedBy: "user-abc",
	}
}

func (s *QueueSuite) TestEnqueueValidates(c *check.C) {
	p := validCreate()
	p.MemoryMB = 64
	_, err := s.queue.Enqueue(s.ctx, "tenant-a", p)
	c.Check(err, check.FitsTypeOf, mpanel.ValidationError{})

	_, err = s.queue.Enqueue(s.ctx, "tenant-a", mpanel.HealthPayload{})
	c.Check(err, check.FitsTypeOf, mpanel.ValidationError{})

	job, err := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())
	c.Assert(err, check.IsNil)
	c.Check(job.Status, check.Equals, mpanel.JobQueued)
	c.Check(job.Attempts, check.Equals, 0)
	c.Check(job.MaxAttempts, check.Equals, 5)
}

func (s *QueueSuite) TestClaimOrdering(c *check.C) {
	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())
		c.Assert(err, check.IsNil)
		ids = append(ids, job.ID)
	}
	for _, want := range ids {
		job, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeCreate, "w0")
		c.Assert(err, check.IsNil)
		c.Assert(job, check.NotNil)
		c.Check(job.ID, check.Equals, want)
		c.Check(job.Status, check.Equals, mpanel.JobRunning)
		c.Check(job.WorkerID, check.Equals, "w0")
		c.Check(job.StartedAt, check.NotNil)
	}
	job, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeCreate, "w0")
	c.Check(err, check.IsNil)
	c.Check(job, check.IsNil)
}

func (s *QueueSuite) TestClaimIsExclusive(c *check.C) {
	njobs := 10
	for i := 0; i < njobs; i++ {
		_, err := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())
		c.Assert(err, check.IsNil)
	}
	var mtx sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeCreate, "race")
				if err != nil || job == nil {
					return
				}
				mtx.Lock()
				claimed[job.ID]++
				mtx.Unlock()
			}
		}()
	}
	wg.Wait()
	c.Check(claimed, check.HasLen, njobs)
	for id, n := range claimed {
		c.Check(n, check.Equals, 1, check.Commentf("job %s claimed %d times", id, n))
	}
}

func (s *QueueSuite) TestCompleteAndFail(c *check.C) {
	job, _ := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())

	// Finishing a queued job is an invalid transition.
	err := s.queue.Complete(s.ctx, job.ID, nil)
	c.Check(err, check.FitsTypeOf, mpanel.InvalidStateError{})

	claimed, _ := s.queue.ClaimNext(s.ctx, mpanel.JobTypeCreate, "w0")
	c.Assert(claimed, check.NotNil)
	c.Assert(s.queue.Complete(s.ctx, claimed.ID, []byte(`{"ok":true}`)), check.IsNil)

	got, err := s.queue.Get(s.ctx, job.ID)
	c.Assert(err, check.IsNil)
	c.Check(got.Status, check.Equals, mpanel.JobSuccess)
	c.Check(string(got.Result), check.Equals, `{"ok":true}`)
	c.Check(got.FinishedAt, check.NotNil)

	// Terminal states stay terminal.
	c.Check(s.queue.Fail(s.ctx, job.ID, "nope"), check.FitsTypeOf, mpanel.InvalidStateError{})
}

func (s *QueueSuite) TestRetrySemantics(c *check.C) {
	job, _ := s.queue.Enqueue(s.ctx, "tenant-a", mpanel.DestroyPayload{CloudPodID: "pod1", RequestedBy: "u"})
	c.Assert(job.MaxAttempts, check.Equals, 3)

	// Retry of a queued job is invalid.
	c.Check(s.queue.Retry(s.ctx, job.ID), check.FitsTypeOf, mpanel.InvalidStateError{})

	for attempt := 0; attempt < job.MaxAttempts; attempt++ {
		claimed, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeDestroy, "w0")
		c.Assert(err, check.IsNil)
		c.Assert(claimed, check.NotNil)
		c.Check(claimed.Attempts, check.Equals, attempt)
		c.Assert(s.queue.Fail(s.ctx, claimed.ID, "boom"), check.IsNil)
		c.Assert(s.queue.Retry(s.ctx, claimed.ID), check.IsNil)
		got, _ := s.queue.Get(s.ctx, job.ID)
		c.Check(got.Status, check.Equals, mpanel.JobQueued)
		c.Check(got.Attempts, check.Equals, attempt+1)
		c.Check(got.LastError, check.Equals, "")
		c.Check(got.StartedAt, check.IsNil)
	}

	// Attempts are exhausted now.
	claimed, _ := s.queue.ClaimNext(s.ctx, mpanel.JobTypeDestroy, "w0")
	c.Assert(claimed, check.NotNil)
	c.Assert(s.queue.Fail(s.ctx, claimed.ID, "boom"), check.IsNil)
	c.Check(s.queue.Retry(s.ctx, claimed.ID), check.FitsTypeOf, mpanel.InvalidStateError{})
}

func (s *QueueSuite) TestHealthJobsNeverRetry(c *check.C) {
	job, err := s.queue.Enqueue(s.ctx, "system", mpanel.HealthPayload{Fleet: true})
	c.Assert(err, check.IsNil)
	c.Check(job.MaxAttempts, check.Equals, 0)
	claimed, _ := s.queue.ClaimNext(s.ctx, mpanel.JobTypeHealth, "w0")
	c.Assert(claimed, check.NotNil)
	c.Assert(s.queue.Fail(s.ctx, claimed.ID, "unreachable"), check.IsNil)
	c.Check(s.queue.Retry(s.ctx, claimed.ID), check.FitsTypeOf, mpanel.InvalidStateError{})
}

func (s *QueueSuite) TestCancel(c *check.C) {
	queued, _ := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())
	c.Assert(s.queue.Cancel(s.ctx, queued.ID), check.IsNil)
	got, _ := s.queue.Get(s.ctx, queued.ID)
	c.Check(got.Status, check.Equals, mpanel.JobFailed)
	c.Check(got.LastError, check.Equals, "cancelled")

	running, _ := s.queue.Enqueue(s.ctx, "tenant-a", validCreate())
	claimed, _ := s.queue.ClaimNext(s.ctx, mpanel.JobTypeCreate, "w0")
	c.Assert(claimed.ID, check.Equals, running.ID)
	c.Assert(s.queue.Cancel(s.ctx, running.ID), check.IsNil)

	// A cancelled job cannot be finished by its worker, retried,
	// or cancelled twice.
	c.Check(s.queue.Complete(s.ctx, running.ID, nil), check.FitsTypeOf, mpanel.InvalidStateError{})
	c.Check(s.queue.Retry(s.ctx, running.ID), check.FitsTypeOf, mpanel.InvalidStateError{})
	c.Check(s.queue.Cancel(s.ctx, running.ID), check.FitsTypeOf, mpanel.InvalidStateError{})
}

func (s *QueueSuite) TestHasActiveSweep(c *check.C) {
	active, err := s.queue.HasActiveSweep(s.ctx)
	c.Assert(err, check.IsNil)
	c.Check(active, check.Equals, false)

	// Single-pod health jobs don't count as sweeps.
	_, err = s.queue.Enqueue(s.ctx, "tenant-a", mpanel.HealthPayload{CloudPodID: "pod1"})
	c.Assert(err, check.IsNil)
	active, _ = s.queue.HasActiveSweep(s.ctx)
	c.Check(active, check.Equals, false)

	sweep, err := s.queue.Enqueue(s.ctx, "system", mpanel.HealthPayload{Fleet: true})
	c.Assert(err, check.IsNil)
	active, _ = s.queue.HasActiveSweep(s.ctx)
	c.Check(active, check.Equals, true)

	// Still active while running, inactive once finished.
	var claimed *mpanel.Job
	for {
		j, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeHealth, "w0")
		c.Assert(err, check.IsNil)
		c.Assert(j, check.NotNil)
		if j.ID == sweep.ID {
			claimed = j
			break
		}
		c.Assert(s.queue.Complete(s.ctx, j.ID, nil), check.IsNil)
	}
	active, _ = s.queue.HasActiveSweep(s.ctx)
	c.Check(active, check.Equals, true)
	c.Assert(s.queue.Complete(s.ctx, claimed.ID, nil), check.IsNil)
	active, _ = s.queue.HasActiveSweep(s.ctx)
	c.Check(active, check.Equals, false)
}

func (s *QueueSuite) TestBackoffDelay(c *check.C) {
	p := PolicyFor(mpanel.JobTypeCreate)
	c.Check(p.BackoffDelay(1), check.Equals, p.BackoffBase)
	c.Check(p.BackoffDelay(2), check.Equals, 2*p.BackoffBase)
	c.Check(p.BackoffDelay(3), check.Equals, 4*p.BackoffBase)
}
