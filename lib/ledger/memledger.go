// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

type key struct {
	tenantID string
	nodeID   string
}

// MemLedger is the in-memory Ledger. One mutex covers every
// mutation and read, which is the whole point: an admission check
// and the increment it admits can never interleave with another
// tenant's increment halfway through.
type MemLedger struct {
	mtx     sync.Mutex
	entries map[key]*Entry
}

func NewMemLedger() *MemLedger {
	return &MemLedger{entries: map[key]*Entry{}}
}

func (ml *MemLedger) entry(tenantID, nodeID string) *Entry {
	k := key{tenantID, nodeID}
	ent, ok := ml.entries[k]
	if !ok {
		ent = &Entry{TenantID: tenantID, NodeID: nodeID}
		ml.entries[k] = ent
	}
	return ent
}

func (ml *MemLedger) Reserve(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	ent := ml.entry(tenantID, nodeID)
	ent.Resources = ent.Resources.Add(res)
	ent.Pods++
	return nil
}

func (ml *MemLedger) Release(ctx context.Context, tenantID, nodeID string, res mpanel.Resources) error {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	ent := ml.entry(tenantID, nodeID)
	ent.Resources = ent.Resources.Sub(res)
	ent.Pods--
	return nil
}

func (ml *MemLedger) UpdateAfterScale(ctx context.Context, tenantID, nodeID string, from, to mpanel.Resources) error {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	ent := ml.entry(tenantID, nodeID)
	ent.Resources = ent.Resources.Sub(from).Add(to)
	return nil
}

func (ml *MemLedger) NodeUsage(ctx context.Context, nodeID string) (Usage, error) {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	var usage Usage
	for k, ent := range ml.entries {
		if k.nodeID == nodeID {
			usage.Resources = usage.Resources.Add(ent.Resources)
			usage.Pods += ent.Pods
		}
	}
	return usage, nil
}

func (ml *MemLedger) TenantUsage(ctx context.Context, tenantID string) (Usage, error) {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	var usage Usage
	for k, ent := range ml.entries {
		if k.tenantID == tenantID {
			usage.Resources = usage.Resources.Add(ent.Resources)
			usage.Pods += ent.Pods
		}
	}
	return usage, nil
}

func (ml *MemLedger) Entries(ctx context.Context) ([]Entry, error) {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	var out []Entry
	for _, ent := range ml.entries {
		out = append(out, *ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out, nil
}

func (ml *MemLedger) SetEntry(ctx context.Context, entry Entry) error {
	ml.mtx.Lock()
	defer ml.mtx.Unlock()
	ent := entry
	ml.entries[key{entry.TenantID, entry.NodeID}] = &ent
	return nil
}
