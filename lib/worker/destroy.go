// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// destroyRunner tears down a CloudPod. The pod goes through
// deleting and ends soft-deleted; a teardown failure reverts it to
// active with its reservation intact. Destroying an already-deleted
// pod is a no-op success.
type destroyRunner struct {
	*Deps
}

type destroyResult struct {
	CloudPodID string `json:"cloudpod_id"`
}

func (r *destroyRunner) Run(ctx context.Context, job *mpanel.Job) (interface{}, error) {
	payload, err := mpanel.UnmarshalPayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(*mpanel.DestroyPayload)

	pod, err := r.Pods.Get(ctx, p.CloudPodID)
	if err != nil {
		return nil, err
	}
	prev := pod.Status
	switch prev {
	case mpanel.PodDeleted:
		return destroyResult{CloudPodID: pod.ID}, nil
	case mpanel.PodActive, mpanel.PodSuspended, mpanel.PodFailed:
	case mpanel.PodDeleting:
		// A previous attempt died mid-teardown; run it again.
	default:
		return nil, mpanel.InvalidStateError{Op: "destroy", ID: pod.ID, Current: string(prev)}
	}

	if prev != mpanel.PodDeleting {
		pod.Status = mpanel.PodDeleting
		if err := r.Pods.Update(ctx, pod); err != nil {
			return nil, err
		}
	}

	_, exec, err := r.execFor(ctx, pod.NodeID)
	if err != nil {
		return nil, err
	}
	if _, _, err := exec.Execute(ctx, destroyCommand(pod.VMID), nil); err != nil {
		revert := mpanel.PodActive
		if prev == mpanel.PodFailed {
			revert = mpanel.PodFailed
		}
		pod.Status = revert
		if uerr := r.Pods.Update(ctx, pod); uerr != nil {
			return nil, uerr
		}
		r.Events.RecordEvent(ctx, pod.TenantID, pod.ID, mpanel.EventError, "teardown failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}

	now := time.Now()
	pod.Status = mpanel.PodDeleted
	pod.DeletedAt = &now
	if err := r.Pods.Update(ctx, pod); err != nil {
		return nil, err
	}
	// A pod that failed provisioning had its reservation released
	// already.
	if prev != mpanel.PodFailed {
		if err := r.Quota.DecrementUsage(ctx, pod.TenantID, pod.NodeID, pod.Res); err != nil {
			return nil, err
		}
	}
	tenantID, podID := pod.TenantID, pod.ID
	after(ctx, func(ctx context.Context) {
		r.Events.RecordEvent(ctx, tenantID, podID, mpanel.EventStateChange, "destroyed", map[string]interface{}{
			"status": mpanel.PodDeleted,
		})
	})
	return destroyResult{CloudPodID: pod.ID}, nil
}
