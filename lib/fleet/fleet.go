// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package fleet exposes the operator-managed hypervisor node
// inventory. The engine only reads it.
package fleet

import (
	"context"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// A NodeStore lists the fleet.
type NodeStore interface {
	All(ctx context.Context) ([]mpanel.Node, error)
	Get(ctx context.Context, id string) (*mpanel.Node, error)
}

// StaticStore serves a fixed node list, typically from the config
// file (development / ephemeral mode) or a test fixture.
type StaticStore struct {
	mtx   sync.RWMutex
	nodes []mpanel.Node
}

func NewStaticStore(nodes []mpanel.Node) *StaticStore {
	return &StaticStore{nodes: nodes}
}

func (ss *StaticStore) All(ctx context.Context) ([]mpanel.Node, error) {
	ss.mtx.RLock()
	defer ss.mtx.RUnlock()
	out := make([]mpanel.Node, len(ss.nodes))
	copy(out, ss.nodes)
	return out, nil
}

func (ss *StaticStore) Get(ctx context.Context, id string) (*mpanel.Node, error) {
	ss.mtx.RLock()
	defer ss.mtx.RUnlock()
	for _, node := range ss.nodes {
		if node.ID == id {
			node := node
			return &node, nil
		}
	}
	return nil, mpanel.InvalidStateError{Op: "get node", ID: id, Current: "missing"}
}

// SetNodes replaces the node list (operator updates).
func (ss *StaticStore) SetNodes(nodes []mpanel.Node) {
	ss.mtx.Lock()
	defer ss.mtx.Unlock()
	ss.nodes = append([]mpanel.Node(nil), nodes...)
}
