// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package quota performs admission control against tenant plan
// ceilings before any resource is committed.
package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/lib/nodeselect"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Decision is an admission verdict. Reason is set when Allowed is
// false. NodeFull marks a denial caused by node headroom rather
// than the tenant plan: the create path reacts by excluding the
// node and re-selecting, where a plan denial is terminal.
type Decision struct {
	Allowed  bool
	Reason   string
	NodeFull bool
}

// A Checker decides whether a create/scale request fits the
// tenant's plan.
type Checker interface {
	CheckCreateCapacity(ctx context.Context, tenantID string, res mpanel.Resources) (Decision, error)
	CheckScaleCapacity(ctx context.Context, tenantID string, from, to mpanel.Resources) (Decision, error)
}

// Service enforces plan ceilings over the ledger. All checks and
// usage mutations for one tenant are serialized on a per-tenant
// lock, so two concurrent creates cannot both pass admission and
// jointly overshoot the plan.
type Service struct {
	planFor func(tenantID string) config.Plan
	ledger  ledger.Ledger

	mtx       sync.Mutex
	locks     map[string]*sync.Mutex
	nodeLocks map[string]*sync.Mutex
}

func NewService(planFor func(tenantID string) config.Plan, ldg ledger.Ledger) *Service {
	return &Service{
		planFor:   planFor,
		ledger:    ldg,
		locks:     map[string]*sync.Mutex{},
		nodeLocks: map[string]*sync.Mutex{},
	}
}

func lock(mtx *sync.Mutex, locks map[string]*sync.Mutex, key string) func() {
	mtx.Lock()
	lk, ok := locks[key]
	if !ok {
		lk = &sync.Mutex{}
		locks[key] = lk
	}
	mtx.Unlock()
	lk.Lock()
	return lk.Unlock
}

// lockTenant returns the unlock func for tenantID's serialization
// lock. Locks are scoped to local bookkeeping only: callers must
// never hold one across a remote-execution call.
func (qs *Service) lockTenant(tenantID string) func() {
	return lock(&qs.mtx, qs.locks, tenantID)
}

// lockNode serializes reservation checks against a node's headroom.
// Always taken after the tenant lock, never the other way around.
func (qs *Service) lockNode(nodeID string) func() {
	return lock(&qs.mtx, qs.nodeLocks, nodeID)
}

func (qs *Service) CheckCreateCapacity(ctx context.Context, tenantID string, res mpanel.Resources) (Decision, error) {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	return qs.checkCreate(ctx, tenantID, res)
}

func (qs *Service) checkCreate(ctx context.Context, tenantID string, res mpanel.Resources) (Decision, error) {
	usage, err := qs.ledger.TenantUsage(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	plan := qs.planFor(tenantID)
	if plan.MaxCloudPods > 0 && usage.Pods+1 > plan.MaxCloudPods {
		return deny("pod limit %d reached", plan.MaxCloudPods), nil
	}
	return qs.fits(plan, usage.Resources.Add(res))
}

// AdmitCreate re-checks the plan ceiling and the node's remaining
// headroom, then records the reservation, all in one critical
// section. This is the step that makes concurrent creates safe:
// selection reads node availability without any lock, so two
// creates can pick the same nearly-full node, but only one of them
// can reserve its headroom here. The loser is denied with NodeFull
// and re-selects elsewhere.
func (qs *Service) AdmitCreate(ctx context.Context, tenantID string, node mpanel.Node, res mpanel.Resources) (Decision, error) {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	unlockNode := qs.lockNode(node.ID)
	defer unlockNode()
	decision, err := qs.checkCreate(ctx, tenantID, res)
	if err != nil || !decision.Allowed {
		return decision, err
	}
	usage, err := qs.ledger.NodeUsage(ctx, node.ID)
	if err != nil {
		return Decision{}, err
	}
	if !nodeselect.FitsOnNode(node, usage, res) {
		d := deny("node %s cannot fit %d cores / %d MB / %d GB", node.ID, res.Cores, res.MemoryMB, res.DiskGB)
		d.NodeFull = true
		return d, nil
	}
	return decision, qs.ledger.Reserve(ctx, tenantID, node.ID, res)
}

func (qs *Service) CheckScaleCapacity(ctx context.Context, tenantID string, from, to mpanel.Resources) (Decision, error) {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	usage, err := qs.ledger.TenantUsage(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	return qs.fits(qs.planFor(tenantID), usage.Resources.Sub(from).Add(to))
}

func (qs *Service) fits(plan config.Plan, want mpanel.Resources) (Decision, error) {
	switch {
	case plan.MaxCores > 0 && want.Cores > plan.MaxCores:
		return deny("core limit %d exceeded", plan.MaxCores), nil
	case plan.MaxMemoryMB > 0 && want.MemoryMB > plan.MaxMemoryMB:
		return deny("memory limit %d MB exceeded", plan.MaxMemoryMB), nil
	case plan.MaxDiskGB > 0 && want.DiskGB > plan.MaxDiskGB:
		return deny("disk limit %d GB exceeded", plan.MaxDiskGB), nil
	}
	return Decision{Allowed: true}, nil
}

// IncrementUsage records a new pod's reservation, serialized with
// this tenant's admission checks.
func (qs *Service) IncrementUsage(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	return qs.ledger.Reserve(ctx, tenantID, nodeID, res)
}

// DecrementUsage releases a pod's reservation.
func (qs *Service) DecrementUsage(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	return qs.ledger.Release(ctx, tenantID, nodeID, res)
}

// UpdateUsageAfterScale swaps a pod's old reservation for its new
// one in a single ledger operation.
func (qs *Service) UpdateUsageAfterScale(ctx context.Context, tenantID, nodeID string, from, to mpanel.Resources) error {
	unlock := qs.lockTenant(tenantID)
	defer unlock()
	return qs.ledger.UpdateAfterScale(ctx, tenantID, nodeID, from, to)
}

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}
