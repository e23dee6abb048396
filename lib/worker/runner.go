// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"io"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/lib/collab"
	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ctrlctx"
	"github.com/migrahosting-alt/mpanel-sub019/lib/fleet"
	"github.com/migrahosting-alt/mpanel-sub019/lib/jobqueue"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/lib/nodeselect"
	"github.com/migrahosting-alt/mpanel-sub019/lib/pods"
	"github.com/migrahosting-alt/mpanel-sub019/lib/quota"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Deps bundles everything the runners orchestrate.
type Deps struct {
	Queue     *jobqueue.Queue
	Pods      pods.Store
	Events    *pods.Recorder
	Nodes     fleet.NodeStore
	Ledger    ledger.Ledger
	Quota     *quota.Service
	Selector  *nodeselect.Selector
	Executors *ExecutorPool
	Ranges    config.Ranges

	// DNS/SSL collaborators are optional; best-effort follow-up
	// only, never part of job success.
	DNS      collab.DNSProvider
	SSL      collab.CertIssuer
	SSLEmail string

	// ExecDurations, if non-nil, is called with the elapsed time
	// of every remote command.
	ExecDurations func(nodeID string, elapsed time.Duration, err error)
}

// NewRunner returns the runner implementing the given job type.
func NewRunner(deps *Deps, t mpanel.JobType) Runner {
	switch t {
	case mpanel.JobTypeCreate:
		return &createRunner{deps}
	case mpanel.JobTypeScale:
		return &scaleRunner{deps}
	case mpanel.JobTypeDestroy:
		return &destroyRunner{deps}
	case mpanel.JobTypeBackup:
		return &backupRunner{deps}
	case mpanel.JobTypeHealth:
		return &healthRunner{deps}
	default:
		return nil
	}
}

// execFor returns the node record and its shared executor.
func (d *Deps) execFor(ctx context.Context, nodeID string) (*mpanel.Node, RemoteExecutor, error) {
	node, err := d.Nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, nil, err
	}
	return node, d.executor(*node), nil
}

// executor returns the node's pooled executor, wrapped for duration
// reporting when configured.
func (d *Deps) executor(node mpanel.Node) RemoteExecutor {
	exr := d.Executors.For(node)
	if d.ExecDurations != nil {
		return &timedExecutor{exec: exr, nodeID: node.ID, observe: d.ExecDurations}
	}
	return exr
}

// timedExecutor reports the duration of each remote command.
type timedExecutor struct {
	exec    RemoteExecutor
	nodeID  string
	observe func(nodeID string, elapsed time.Duration, err error)
}

func (te *timedExecutor) Execute(ctx context.Context, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	t0 := time.Now()
	stdout, stderr, err := te.exec.Execute(ctx, cmd, stdin)
	te.observe(te.nodeID, time.Since(t0), err)
	return stdout, stderr, err
}

func (te *timedExecutor) Close() {
	te.exec.Close()
}

// after schedules fn to run once the surrounding job execution has
// succeeded; outside a pool-wrapped execution it runs immediately.
// Either way fn gets a context that survives the job's execution
// deadline, so follow-ups (events, collaborator calls) are not cut
// short by an almost-spent job timeout.
func after(ctx context.Context, fn func(context.Context)) {
	callCtx := context.WithoutCancel(ctx)
	call := func() { fn(callCtx) }
	if err := ctrlctx.OnSuccess(ctx, call); err != nil {
		call()
	}
}
