// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/migrahosting-alt/mpanel-sub019/lib/nodeselect"
	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// createRunner provisions a new CloudPod: quota admission, best-fit
// node selection, VMID/IP allocation, remote provisioning, then
// activation. The ledger reservation is taken as soon as the pod
// row exists (status provisioning) and released if provisioning
// fails, so reserved pods and the ledger agree at every step.
type createRunner struct {
	*Deps
}

type createResult struct {
	CloudPodID string `json:"cloudpod_id"`
	VMID       int    `json:"vmid"`
	IP         string `json:"ip"`
	NodeID     string `json:"node_id"`
}

func (r *createRunner) Run(ctx context.Context, job *mpanel.Job) (interface{}, error) {
	payload, err := mpanel.UnmarshalPayload(job.Type, job.Payload)
	if err != nil {
		return nil, err
	}
	p := payload.(*mpanel.CreatePayload)
	res := mpanel.Resources{Cores: p.Cores, MemoryMB: p.MemoryMB, SwapMB: p.SwapMB, DiskGB: p.DiskGB}

	// Fast-path admission check before any selection work. The
	// binding check happens atomically with the reservation in
	// AdmitCreate below.
	decision, err := r.Quota.CheckCreateCapacity(ctx, job.TenantID, res)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, mpanel.AdmissionDenied{Reason: decision.Reason}
	}

	var pod *mpanel.CloudPod
	var node *mpanel.Node
	if job.CloudPodID != "" {
		// A previous attempt got as far as creating the pod
		// row. It stays pinned to its original node, so
		// selection is skipped: a momentarily full fleet must
		// not turn a retryable failure into ErrNoEligibleNode.
		pod, err = r.Pods.Get(ctx, job.CloudPodID)
		if err != nil {
			return nil, err
		}
		switch pod.Status {
		case mpanel.PodActive:
			// Provisioned but never finalized. Nothing left
			// to do.
			return createResult{CloudPodID: pod.ID, VMID: pod.VMID, IP: pod.IP, NodeID: pod.NodeID}, nil
		case mpanel.PodFailed:
			// Resurrect, keeping the VMID and IP already
			// allocated to it.
			node, err = r.Nodes.Get(ctx, pod.NodeID)
			if err != nil {
				return nil, err
			}
			decision, err := r.Quota.AdmitCreate(ctx, job.TenantID, *node, res)
			if err != nil {
				return nil, err
			}
			if !decision.Allowed {
				return nil, mpanel.AdmissionDenied{Reason: decision.Reason}
			}
			pod.Status = mpanel.PodProvisioning
			pod.Res = res
			if err := r.Pods.Update(ctx, pod); err != nil {
				r.release(ctx, job.TenantID, pod.NodeID, res)
				return nil, err
			}
		default:
			return nil, mpanel.InvalidStateError{Op: "provision", ID: pod.ID, Current: string(pod.Status)}
		}
	} else {
		// Select, then reserve. Selection reads availability
		// without a lock, so admission can find the chosen node
		// already claimed by a concurrent create; exclude it and
		// take the next best fit.
		var excluded []string
		for {
			node, err = r.Selector.Select(ctx, nodeselect.Criteria{
				Cores:           p.Cores,
				MemoryMB:        p.MemoryMB,
				DiskGB:          p.DiskGB,
				PreferredRegion: p.PreferredRegion,
				ExcludeNodeIDs:  excluded,
			})
			if err != nil {
				return nil, err
			}
			decision, err := r.Quota.AdmitCreate(ctx, job.TenantID, *node, res)
			if err != nil {
				return nil, err
			}
			if decision.Allowed {
				break
			}
			if decision.NodeFull {
				excluded = append(excluded, node.ID)
				continue
			}
			return nil, mpanel.AdmissionDenied{Reason: decision.Reason}
		}
	}
	exec := r.executor(*node)

	if pod == nil {
		// The reservation is held; from here on every failure
		// path must release it.
		localIDs, err := r.Pods.VMIDsOnNode(ctx, node.ID)
		if err != nil {
			r.release(ctx, job.TenantID, node.ID, res)
			return nil, err
		}
		vmid, err := sshexec.NextVMID(ctx, exec, localIDs, r.Ranges.VMIDStart, r.Ranges.VMIDEnd)
		if err != nil {
			r.release(ctx, job.TenantID, node.ID, res)
			return nil, err
		}
		usedIPs, err := r.Pods.UsedIPs(ctx)
		if err != nil {
			r.release(ctx, job.TenantID, node.ID, res)
			return nil, err
		}
		ip, err := sshexec.NextIP(r.Ranges.IPv4Prefix, r.Ranges.IPv4Start, r.Ranges.IPv4End, usedIPs)
		if err != nil {
			r.release(ctx, job.TenantID, node.ID, res)
			return nil, err
		}
		pod = &mpanel.CloudPod{
			ID:        uuid.NewString(),
			TenantID:  job.TenantID,
			VMID:      vmid,
			Hostname:  p.Hostname,
			IP:        ip,
			NodeID:    node.ID,
			Status:    mpanel.PodProvisioning,
			Res:       res,
			CreatedAt: time.Now(),
		}
		if err := r.Pods.Insert(ctx, pod); err != nil {
			r.release(ctx, job.TenantID, node.ID, res)
			return nil, err
		}
		if err := r.Queue.SetCloudPod(ctx, job.ID, pod.ID); err != nil {
			return nil, err
		}
	}

	stdout, _, err := exec.Execute(ctx, provisionCommand(pod.VMID, pod.Hostname, pod.IP, res), nil)
	if err != nil {
		r.failPod(ctx, pod, err)
		return nil, err
	}
	var pr provisionResult
	if err := sshexec.ParseResult(stdout, &pr); err != nil {
		r.failPod(ctx, pod, err)
		return nil, err
	}

	pod.Status = mpanel.PodActive
	if err := r.Pods.Update(ctx, pod); err != nil {
		return nil, err
	}
	tenantID, podID, ip, domain := job.TenantID, pod.ID, pod.IP, p.Domain
	after(ctx, func(ctx context.Context) {
		r.Events.RecordEvent(ctx, tenantID, podID, mpanel.EventStateChange, "provisioned", map[string]interface{}{
			"status": mpanel.PodActive,
			"vmid":   pr.VMID,
			"ip":     ip,
		})
		r.followUp(ctx, podID, domain, ip)
	})
	return createResult{CloudPodID: pod.ID, VMID: pod.VMID, IP: pod.IP, NodeID: pod.NodeID}, nil
}

func (r *createRunner) release(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) {
	if err := r.Quota.DecrementUsage(ctx, tenantID, nodeID, res); err != nil {
		ctxlog.FromContext(ctx).WithError(err).Error("error releasing reservation")
	}
}

// failPod marks the pod failed and releases its reservation. The
// provisioning error itself is what fails the job; bookkeeping
// errors here are logged and swallowed.
func (r *createRunner) failPod(ctx context.Context, pod *mpanel.CloudPod, cause error) {
	logger := ctxlog.FromContext(ctx).WithField("CloudPodID", pod.ID)
	pod.Status = mpanel.PodFailed
	if err := r.Pods.Update(ctx, pod); err != nil {
		logger.WithError(err).Error("error marking pod failed")
		return
	}
	if err := r.Quota.DecrementUsage(ctx, pod.TenantID, pod.NodeID, pod.Res); err != nil {
		logger.WithError(err).Error("error releasing reservation for failed pod")
	}
	r.Events.RecordEvent(ctx, pod.TenantID, pod.ID, mpanel.EventError, "provisioning failed", map[string]interface{}{
		"error": cause.Error(),
	})
}

// followUp points DNS at the new pod and requests a certificate.
// Best effort: failures are logged, never unwound.
func (r *createRunner) followUp(ctx context.Context, podID, domain, ip string) {
	if domain == "" {
		return
	}
	logger := ctxlog.FromContext(ctx).WithField("CloudPodID", podID)
	if r.DNS != nil {
		if err := r.DNS.CreateZoneAndRecords(ctx, domain, ip); err != nil {
			logger.WithError(err).Warn("DNS follow-up failed")
		}
	}
	if r.SSL != nil {
		if err := r.SSL.IssueCertificate(ctx, domain, r.SSLEmail); err != nil {
			logger.WithError(err).Warn("certificate follow-up failed")
		}
	}
}
