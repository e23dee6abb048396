// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/lib/pods"
	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Probe statuses reported by the node-side agent. Anything the
// probe cannot reach or parse counts as critical.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// healthRunner probes a single CloudPod or the whole fleet. Probes
// are read-only and never retried: an unreachable pod is recorded
// as critical and reported, not re-queued.
type healthRunner struct {
	*Deps
}

type healthResult struct {
	Probed   int      `json:"probed"`
	OK       int      `json:"ok"`
	Degraded int      `json:"degraded"`
	Critical int      `json:"critical"`
	Issues   []string `json:"issues,omitempty"`
}

func (r *healthRunner) Run(ctx context.Context, job *mpanel.Job) (interface{}, error) {
	payload, err := mpanel.UnmarshalPayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(*mpanel.HealthPayload)

	var targets []mpanel.CloudPod
	if p.Fleet {
		all, err := r.Pods.List(ctx, pods.ListFilter{OnlyReserved: true})
		if err != nil {
			return nil, err
		}
		for _, pod := range all {
			if pod.Status == mpanel.PodActive || pod.Status == mpanel.PodSuspended {
				targets = append(targets, pod)
			}
		}
	} else {
		pod, err := r.Pods.Get(ctx, p.CloudPodID)
		if err != nil {
			return nil, err
		}
		if pod.Status != mpanel.PodActive && pod.Status != mpanel.PodSuspended {
			return nil, mpanel.InvalidStateError{Op: "probe", ID: pod.ID, Current: string(pod.Status)}
		}
		targets = append(targets, *pod)
	}

	summary := healthResult{}
	for i := range targets {
		pod := &targets[i]
		status := r.probe(ctx, pod)
		now := time.Now()
		pod.LastHealthStatus = status
		pod.LastHealthAt = &now
		if err := r.Pods.Update(ctx, pod); err != nil {
			return nil, err
		}
		summary.Probed++
		switch status {
		case HealthOK:
			summary.OK++
		case HealthDegraded:
			summary.Degraded++
		default:
			summary.Critical++
		}
		if status != HealthOK {
			summary.Issues = append(summary.Issues, fmt.Sprintf("%s: %s", pod.ID, status))
			r.Events.RecordEvent(ctx, pod.TenantID, pod.ID, mpanel.EventError, "health issue", map[string]interface{}{
				"status": status,
			})
		}
	}

	// The health event is emitted regardless of outcome. A fleet
	// sweep records one fleet-wide event (no pod id); a single
	// probe records against its pod.
	tenantID, podID := job.TenantID, ""
	if !p.Fleet {
		podID = targets[0].ID
	}
	r.Events.RecordEvent(ctx, tenantID, podID, mpanel.EventHealth, "health probe", summary)
	return summary, nil
}

// probe runs the node-side probe for one pod. Infrastructure and
// probe failures degrade to critical status instead of failing the
// job.
func (r *healthRunner) probe(ctx context.Context, pod *mpanel.CloudPod) string {
	logger := ctxlog.FromContext(ctx).WithField("CloudPodID", pod.ID)
	_, exec, err := r.execFor(ctx, pod.NodeID)
	if err != nil {
		logger.WithError(err).Warn("probe: node unavailable")
		return HealthCritical
	}
	stdout, _, err := exec.Execute(ctx, probeCommand(pod.VMID), nil)
	if err != nil {
		logger.WithError(err).Info("probe failed")
		return HealthCritical
	}
	var pr probeResult
	if err := sshexec.ParseResult(stdout, &pr); err != nil {
		logger.WithError(err).Warn("probe: bad result")
		return HealthCritical
	}
	switch pr.Status {
	case HealthOK, HealthDegraded, HealthCritical:
		return pr.Status
	default:
		return HealthCritical
	}
}
