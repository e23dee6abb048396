// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package engine

import (
	"context"
	"time"

	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	engtest "github.com/migrahosting-alt/mpanel-sub019/lib/engine/test"
	"github.com/migrahosting-alt/mpanel-sub019/lib/worker"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

var _ = check.Suite(&EngineSuite{})

type EngineSuite struct{}

// TestEphemeralLifecycle drives a create job end to end through a
// started engine: enqueue over the queue, claim and execution by the
// worker pools, remote provisioning against a scripted hypervisor.
func (s *EngineSuite) TestEphemeralLifecycle(c *check.C) {
	cfg := config.Default()
	cfg.SSH.PrivateKeyFile = ""
	cfg.PollInterval = mpanel.Duration(10 * time.Millisecond)
	cfg.HealthSweepInterval = 0
	cfg.Nodes = []mpanel.Node{{
		ID: "node1", Name: "hv1", Address: "10.0.0.1", RemoteUser: "root",
		TotalCores: 16, TotalMemoryMB: 65536, TotalDiskGB: 1000,
		Role: mpanel.NodeRoleHypervisor, Active: true,
	}}
	eng, err := New(ctxlog.TestLogger(c), cfg)
	c.Assert(err, check.IsNil)

	hv := engtest.NewStubHypervisor()
	eng.Executors = worker.NewStubExecutorPool(func(mpanel.Node) worker.RemoteExecutor { return hv })
	eng.Start()
	defer eng.Stop()

	ctx := ctxlog.Context(context.Background(), eng.Logger)
	job, err := eng.Queue.Enqueue(ctx, "tenant-a", mpanel.CreatePayload{
		Cores: 2, MemoryMB: 1024, DiskGB: 20, Hostname: "web1", RequestedBy: "user1",
	})
	c.Assert(err, check.IsNil)

	deadline := time.Now().Add(10 * time.Second)
	for {
		got, err := eng.Queue.Get(ctx, job.ID)
		c.Assert(err, check.IsNil)
		if got.Status.Final() {
			c.Assert(got.Status, check.Equals, mpanel.JobSuccess)
			job = got
			break
		}
		if time.Now().After(deadline) {
			c.Fatalf("job still %s after timeout", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Assert(job.CloudPodID, check.Not(check.Equals), "")
	pod, err := eng.Pods.Get(ctx, job.CloudPodID)
	c.Assert(err, check.IsNil)
	c.Check(pod.Status, check.Equals, mpanel.PodActive)
	c.Check(pod.VMID, check.Equals, 100)
	c.Check(hv.HasVMID(100), check.Equals, true)

	usage, err := eng.Ledger.TenantUsage(ctx, "tenant-a")
	c.Assert(err, check.IsNil)
	c.Check(usage.Pods, check.Equals, 1)

	drifts, err := eng.ReconcileNow(ctx)
	c.Assert(err, check.IsNil)
	c.Check(drifts, check.HasLen, 0)
}
