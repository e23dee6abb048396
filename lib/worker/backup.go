// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// backupRunner snapshots a CloudPod. Success only moves
// LastBackupAt; a failed snapshot leaves the pod untouched and
// fails the job.
type backupRunner struct {
	*Deps
}

type backupResult struct {
	CloudPodID string `json:"cloudpod_id"`
	Snapshot   string `json:"snapshot"`
}

func (r *backupRunner) Run(ctx context.Context, job *mpanel.Job) (interface{}, error) {
	payload, err := mpanel.UnmarshalPayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(*mpanel.BackupPayload)

	pod, err := r.Pods.Get(ctx, p.CloudPodID)
	if err != nil {
		return nil, err
	}
	if pod.Status != mpanel.PodActive && pod.Status != mpanel.PodSuspended {
		return nil, mpanel.InvalidStateError{Op: "backup", ID: pod.ID, Current: string(pod.Status)}
	}

	_, exec, err := r.execFor(ctx, pod.NodeID)
	if err != nil {
		return nil, err
	}
	stdout, _, err := exec.Execute(ctx, snapshotCommand(pod.VMID), nil)
	if err != nil {
		r.Events.RecordEvent(ctx, pod.TenantID, pod.ID, mpanel.EventError, "backup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}
	var sr snapshotResult
	if err := sshexec.ParseResult(stdout, &sr); err != nil {
		return nil, err
	}

	now := time.Now()
	pod.LastBackupAt = &now
	if err := r.Pods.Update(ctx, pod); err != nil {
		return nil, err
	}
	tenantID, podID := pod.TenantID, pod.ID
	after(ctx, func(ctx context.Context) {
		r.Events.RecordEvent(ctx, tenantID, podID, mpanel.EventBackup, "backup completed", map[string]interface{}{
			"snapshot": sr.Snapshot,
		})
	})
	return backupResult{CloudPodID: pod.ID, Snapshot: sr.Snapshot}, nil
}
