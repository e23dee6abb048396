// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"fmt"

	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/lib/nodeselect"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// scaleRunner resizes a CloudPod in place. Admission checks both
// the tenant plan ceiling and the headroom left on the pod's node;
// on any failure the pod's snapshot and ledger entry stay exactly
// as they were.
type scaleRunner struct {
	*Deps
}

type scaleResult struct {
	CloudPodID string           `json:"cloudpod_id"`
	From       mpanel.Resources `json:"from"`
	To         mpanel.Resources `json:"to"`
}

func (r *scaleRunner) Run(ctx context.Context, job *mpanel.Job) (interface{}, error) {
	payload, err := mpanel.UnmarshalPayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(*mpanel.ScalePayload)

	pod, err := r.Pods.Get(ctx, p.CloudPodID)
	if err != nil {
		return nil, err
	}
	if pod.Status != mpanel.PodActive && pod.Status != mpanel.PodSuspended {
		return nil, mpanel.InvalidStateError{Op: "scale", ID: pod.ID, Current: string(pod.Status)}
	}
	from := pod.Res
	to := mpanel.Resources{Cores: p.Cores, MemoryMB: p.MemoryMB, SwapMB: p.SwapMB, DiskGB: p.DiskGB}
	if to.DiskGB == 0 {
		// 0 means keep the current size.
		to.DiskGB = from.DiskGB
	}
	if to.DiskGB < from.DiskGB {
		return nil, mpanel.ValidationError{Field: "disk_gb", Reason: "disk can only grow"}
	}

	decision, err := r.Quota.CheckScaleCapacity(ctx, job.TenantID, from, to)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, mpanel.AdmissionDenied{Reason: decision.Reason}
	}

	node, exec, err := r.execFor(ctx, pod.NodeID)
	if err != nil {
		return nil, err
	}
	usage, err := r.Ledger.NodeUsage(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	// The pod's own reservation comes back if the resize is
	// admitted, so judge the target size against the node minus
	// everything but this pod.
	others := ledger.Usage{Resources: usage.Resources.Sub(from), Pods: usage.Pods - 1}
	if !nodeselect.FitsOnNode(*node, others, to) {
		return nil, mpanel.AdmissionDenied{
			Reason: fmt.Sprintf("node %s cannot fit %d cores / %d MB / %d GB", node.ID, to.Cores, to.MemoryMB, to.DiskGB),
		}
	}

	if p.PreBackup {
		if _, _, err := exec.Execute(ctx, snapshotCommand(pod.VMID), nil); err != nil {
			return nil, err
		}
	}
	if _, _, err := exec.Execute(ctx, resizeCommand(pod.VMID, to), nil); err != nil {
		return nil, err
	}

	pod.Res = to
	if err := r.Pods.Update(ctx, pod); err != nil {
		return nil, err
	}
	if err := r.Quota.UpdateUsageAfterScale(ctx, job.TenantID, pod.NodeID, from, to); err != nil {
		return nil, err
	}
	tenantID, podID := job.TenantID, pod.ID
	after(ctx, func(ctx context.Context) {
		r.Events.RecordEvent(ctx, tenantID, podID, mpanel.EventStateChange, "scaled", map[string]interface{}{
			"from": from,
			"to":   to,
		})
	})
	return scaleResult{CloudPodID: pod.ID, From: from, To: to}, nil
}
