// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package ledger tracks reserved cores/memory/disk per (tenant,
// node). It is the engine's one piece of truly shared mutable
// state: every mutation must be atomic with respect to concurrent
// admission checks.
package ledger

import (
	"context"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// An Entry is the reserved aggregate for one (tenant, node) pair.
// It is derived state: re-aggregating that tenant's reserved pods
// on that node must produce the same totals.
type Entry struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`
	NodeID   string `json:"node_id" db:"node_id"`
	mpanel.Resources
	Pods int `json:"pods" db:"pods"`
}

// Usage is a reservation total over some scope (one node, one
// tenant).
type Usage struct {
	mpanel.Resources
	Pods int `json:"pods"`
}

// A Ledger applies reservation deltas atomically and serves usage
// totals computed at read time, never from cached counters on the
// node row.
type Ledger interface {
	// Reserve adds a pod's resources for (tenant, node).
	Reserve(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error

	// Release subtracts a pod's resources. Called exactly once
	// per pod, on the transition to deleted or failed.
	Release(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error

	// UpdateAfterScale replaces from with to in one atomic
	// step.
	UpdateAfterScale(ctx context.Context, tenantID, nodeID string, from, to mpanel.Resources) error

	NodeUsage(ctx context.Context, nodeID string) (Usage, error)
	TenantUsage(ctx context.Context, tenantID string) (Usage, error)
	Entries(ctx context.Context) ([]Entry, error)

	// SetEntry overwrites one entry; used only by the
	// reconciliation repair path.
	SetEntry(ctx context.Context, entry Entry) error
}
