// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package nodeselect picks a hypervisor node for a new or resized
// workload using best-fit bin packing over available capacity.
package nodeselect

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/lib/fleet"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Operational headroom withheld from every node's declared
// capacity.
const (
	memoryReserveFraction = 0.20
	diskReserveFraction   = 0.10
)

// Available returns the capacity remaining on a node after
// subtracting the reserve fractions and current ledger usage.
func Available(node mpanel.Node, usage ledger.Usage) (cores int, memMB, diskGB float64) {
	cores = node.TotalCores - usage.Cores
	memMB = float64(node.TotalMemoryMB)*(1-memoryReserveFraction) - float64(usage.MemoryMB)
	diskGB = float64(node.TotalDiskGB)*(1-diskReserveFraction) - float64(usage.DiskGB)
	return
}

// FitsOnNode reports whether a workload needing res fits on the node
// given the usage already reserved there.
func FitsOnNode(node mpanel.Node, usage ledger.Usage, res mpanel.Resources) bool {
	cores, memMB, diskGB := Available(node, usage)
	return cores >= res.Cores && memMB >= float64(res.MemoryMB) && diskGB >= float64(res.DiskGB)
}

// Criteria describes the placement request.
type Criteria struct {
	Cores           int
	MemoryMB        int
	DiskGB          int
	PreferredRegion string
	ExcludeNodeIDs  []string
}

// A PodCounter reports how many workloads currently occupy a node,
// for the per-node ceiling.
type PodCounter interface {
	CountOnNode(ctx context.Context, nodeID string) (int, error)
}

// Selector chooses nodes. Availability is computed at read time
// from the ledger; there is no cached allocation counter on the
// node row to drift.
type Selector struct {
	nodes  fleet.NodeStore
	ledger ledger.Ledger
	count  PodCounter
}

func New(nodes fleet.NodeStore, ldg ledger.Ledger, count PodCounter) *Selector {
	return &Selector{nodes: nodes, ledger: ldg, count: count}
}

// Select returns the eligible node minimizing waste, or
// mpanel.ErrNoEligibleNode. Callers must treat that error as a hard
// admission failure, not a transient one.
func (sel *Selector) Select(ctx context.Context, crit Criteria) (*mpanel.Node, error) {
	logger := ctxlog.FromContext(ctx)
	nodes, err := sel.nodes.All(ctx)
	if err != nil {
		return nil, err
	}
	excluded := map[string]bool{}
	for _, id := range crit.ExcludeNodeIDs {
		excluded[id] = true
	}

	type candidate struct {
		node  mpanel.Node
		waste float64
	}
	var eligible []candidate
	for _, node := range nodes {
		if !node.Active || node.Role != mpanel.NodeRoleHypervisor || excluded[node.ID] {
			continue
		}
		usage, err := sel.ledger.NodeUsage(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		availCores, availMemMB, availDiskGB := Available(node, usage)
		if availCores < crit.Cores ||
			availMemMB < float64(crit.MemoryMB) ||
			availDiskGB < float64(crit.DiskGB) {
			continue
		}
		if node.MaxCloudPods > 0 {
			n, err := sel.count.CountOnNode(ctx, node.ID)
			if err != nil {
				return nil, err
			}
			if n >= node.MaxCloudPods {
				continue
			}
		}
		// Best fit: prefer the node that leaves the least
		// slack behind, with disk slack weighted 100x.
		waste := (availMemMB - float64(crit.MemoryMB)) +
			100*(availDiskGB-float64(crit.DiskGB))
		eligible = append(eligible, candidate{node: node, waste: waste})
	}

	if crit.PreferredRegion != "" {
		var regional []candidate
		for _, cand := range eligible {
			if cand.node.Region == crit.PreferredRegion {
				regional = append(regional, cand)
			}
		}
		if len(regional) > 0 {
			eligible = regional
		}
	}

	if len(eligible) == 0 {
		logger.WithFields(logrus.Fields{
			"Cores":    crit.Cores,
			"MemoryMB": crit.MemoryMB,
			"DiskGB":   crit.DiskGB,
		}).Info("no eligible node")
		return nil, mpanel.ErrNoEligibleNode
	}

	best := eligible[0]
	for _, cand := range eligible[1:] {
		if cand.waste < best.waste {
			best = cand
		}
	}
	logger.WithFields(logrus.Fields{
		"NodeID": best.node.ID,
		"Waste":  best.waste,
	}).Debug("node selected")
	return &best.node, nil
}
