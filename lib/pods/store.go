// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package pods persists CloudPods and their append-only event
// history.
package pods

import (
	"context"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	TenantID string
	NodeID   string
	// OnlyReserved restricts to pods whose status holds a
	// ledger reservation (provisioning/active/suspended/deleting).
	OnlyReserved bool
}

// A Store persists CloudPods and events. Pods are soft-deleted:
// Update never removes rows, and events are write-once.
type Store interface {
	Insert(ctx context.Context, pod *mpanel.CloudPod) error
	Get(ctx context.Context, id string) (*mpanel.CloudPod, error)
	Update(ctx context.Context, pod *mpanel.CloudPod) error
	List(ctx context.Context, filter ListFilter) ([]mpanel.CloudPod, error)

	// VMIDsOnNode returns the VMIDs of non-deleted pods on the
	// node, for the allocator's local half of the id union.
	VMIDsOnNode(ctx context.Context, nodeID string) ([]int, error)

	// UsedIPs returns the addresses of non-deleted pods.
	UsedIPs(ctx context.Context) ([]string, error)

	// CountOnNode counts pods holding a reservation on the
	// node, for the per-node workload ceiling.
	CountOnNode(ctx context.Context, nodeID string) (int, error)

	AddEvent(ctx context.Context, ev *mpanel.CloudPodEvent) error
	ListEvents(ctx context.Context, podID string) ([]mpanel.CloudPodEvent, error)
}
