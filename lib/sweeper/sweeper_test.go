// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sweeper

import (
	"context"
	"testing"
	"time"

	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/lib/jobqueue"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&SweeperSuite{})

type SweeperSuite struct {
	ctx   context.Context
	queue *jobqueue.Queue
	sw    *Sweeper
}

func (s *SweeperSuite) SetUpTest(c *check.C) {
	logger := ctxlog.TestLogger(c)
	s.ctx = ctxlog.Context(context.Background(), logger)
	s.queue = jobqueue.NewQueue(logger, nil, jobqueue.NewMemStore())
	s.sw = New(logger, s.queue, time.Hour)
}

func (s *SweeperSuite) TestSweepDeduplication(c *check.C) {
	c.Check(s.sw.SweepNow(s.ctx), check.Equals, true)

	// A second tick while the sweep is still queued does nothing.
	c.Check(s.sw.SweepNow(s.ctx), check.Equals, false)
	jobs, err := s.queue.List(s.ctx, mpanel.JobTypeHealth, "")
	c.Assert(err, check.IsNil)
	c.Assert(jobs, check.HasLen, 1)
	c.Check(jobs[0].TenantID, check.Equals, SystemTenant)

	// Still deduplicated while a worker has it claimed.
	job, err := s.queue.ClaimNext(s.ctx, mpanel.JobTypeHealth, "w1")
	c.Assert(err, check.IsNil)
	c.Assert(job, check.NotNil)
	c.Check(s.sw.SweepNow(s.ctx), check.Equals, false)

	// Once the sweep finishes, the next tick enqueues again.
	c.Assert(s.queue.Complete(s.ctx, job.ID, nil), check.IsNil)
	c.Check(s.sw.SweepNow(s.ctx), check.Equals, true)
}

func (s *SweeperSuite) TestSingleProbeDoesNotBlockSweep(c *check.C) {
	_, err := s.queue.Enqueue(s.ctx, "tenant-a", mpanel.HealthPayload{CloudPodID: "pod1"})
	c.Assert(err, check.IsNil)
	c.Check(s.sw.SweepNow(s.ctx), check.Equals, true)
}

func (s *SweeperSuite) TestStartStop(c *check.C) {
	sw := New(ctxlog.TestLogger(c), s.queue, 10*time.Millisecond)
	sw.Start()
	deadline := time.Now().Add(5 * time.Second)
	for {
		jobs, err := s.queue.List(s.ctx, mpanel.JobTypeHealth, mpanel.JobQueued)
		c.Assert(err, check.IsNil)
		if len(jobs) > 0 {
			break
		}
		if time.Now().After(deadline) {
			c.Fatal("sweeper never enqueued a sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sw.Stop()
}
