// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nodeselect

import (
	"context"
	"testing"

	check "gopkg.in/check.v1"

	"github.com/migrahosting-alt/mpanel-sub019/lib/fleet"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&SelectorSuite{})

type SelectorSuite struct {
	ctx    context.Context
	ledger *ledger.MemLedger
	counts map[string]int
}

type stubCounter struct {
	counts map[string]int
}

func (sc stubCounter) CountOnNode(ctx context.Context, nodeID string) (int, error) {
	return sc.counts[nodeID], nil
}

func (s *SelectorSuite) SetUpTest(c *check.C) {
	s.ctx = context.Background()
	s.ledger = ledger.NewMemLedger()
	s.counts = map[string]int{}
}

func (s *SelectorSuite) selector(nodes ...mpanel.Node) *Selector {
	return New(fleet.NewStaticStore(nodes), s.ledger, stubCounter{s.counts})
}

func hvNode(id, region string, cores, memMB, diskGB int) mpanel.Node {
	return mpanel.Node{
		ID:            id,
		Name:          id,
		Address:       id + ".example.net",
		TotalCores:    cores,
		TotalMemoryMB: memMB,
		TotalDiskGB:   diskGB,
		Role:          mpanel.NodeRoleHypervisor,
		Region:        region,
		Active:        true,
	}
}

func (s *SelectorSuite) TestReserveFractions(c *check.C) {
	// 10000 MB total => 8000 usable; 100 GB disk => 90 usable.
	sel := s.selector(hvNode("node1", "fsn", 16, 10000, 100))

	_, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 8001, DiskGB: 10})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)
	_, err = sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 91})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)

	node, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 8000, DiskGB: 90})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node1")
}

func (s *SelectorSuite) TestUsageReducesAvailability(c *check.C) {
	sel := s.selector(hvNode("node1", "fsn", 4, 10000, 100))
	c.Assert(s.ledger.Reserve(s.ctx, "tenant-a", "node1", mpanel.Resources{Cores: 2, MemoryMB: 4000, DiskGB: 40}), check.IsNil)

	// 8000-4000=4000 MB left under the reserve fraction.
	_, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 4001, DiskGB: 10})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)
	_, err = sel.Select(s.ctx, Criteria{Cores: 3, MemoryMB: 1024, DiskGB: 10})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)
	node, err := sel.Select(s.ctx, Criteria{Cores: 2, MemoryMB: 4000, DiskGB: 10})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node1")
}

func (s *SelectorSuite) TestBestFit(c *check.C) {
	// node2 leaves less slack behind for this request, so it
	// wins even though node1 has more room.
	sel := s.selector(
		hvNode("node1", "fsn", 32, 64000, 1000),
		hvNode("node2", "fsn", 8, 8000, 100),
	)
	node, err := sel.Select(s.ctx, Criteria{Cores: 2, MemoryMB: 2048, DiskGB: 40})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node2")
}

func (s *SelectorSuite) TestDiskSlackDominates(c *check.C) {
	// node1 has the tighter memory fit, node2 the tighter disk
	// fit. Disk slack is weighted 100x, so node2 wins.
	sel := s.selector(
		hvNode("node1", "fsn", 8, 4000, 1000),
		hvNode("node2", "fsn", 8, 32000, 100),
	)
	node, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 2048, DiskGB: 50})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node2")
}

func (s *SelectorSuite) TestPreferredRegion(c *check.C) {
	sel := s.selector(
		hvNode("node1", "fsn", 8, 8000, 100),
		hvNode("node2", "hel", 32, 64000, 1000),
	)
	// Preferred region wins even with a worse fit.
	node, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 10, PreferredRegion: "hel"})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node2")

	// Preference, not a constraint: an unsatisfiable region
	// falls back to the full fleet.
	node, err = sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 10, PreferredRegion: "ash"})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node1")
}

func (s *SelectorSuite) TestFiltersAndCeiling(c *check.C) {
	inactive := hvNode("node1", "fsn", 8, 8000, 100)
	inactive.Active = false
	storage := hvNode("node2", "fsn", 8, 8000, 100)
	storage.Role = "storage"
	capped := hvNode("node3", "fsn", 8, 8000, 100)
	capped.MaxCloudPods = 2
	s.counts["node3"] = 2

	sel := s.selector(inactive, storage, capped)
	_, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 10})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)

	s.counts["node3"] = 1
	node, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 10})
	c.Assert(err, check.IsNil)
	c.Check(node.ID, check.Equals, "node3")
}

func (s *SelectorSuite) TestExcludeNodes(c *check.C) {
	sel := s.selector(
		hvNode("node1", "fsn", 8, 8000, 100),
		hvNode("node2", "fsn", 8, 8000, 100),
	)
	node, err := sel.Select(s.ctx, Criteria{Cores: 1, MemoryMB: 1024, DiskGB: 10, ExcludeNodeIDs: []string{"node1", "node2"}})
	c.Check(err, check.Equals, mpanel.ErrNoEligibleNode)
	c.Check(node, check.IsNil)
}

func (s *SelectorSuite) TestFitsOnNode(c *check.C) {
	node := hvNode("node1", "fsn", 4, 10000, 100)
	usage := ledger.Usage{Resources: mpanel.Resources{Cores: 2, MemoryMB: 4000, DiskGB: 40}, Pods: 1}
	c.Check(FitsOnNode(node, usage, mpanel.Resources{Cores: 2, MemoryMB: 4000, DiskGB: 50}), check.Equals, true)
	c.Check(FitsOnNode(node, usage, mpanel.Resources{Cores: 2, MemoryMB: 4001, DiskGB: 50}), check.Equals, false)
	c.Check(FitsOnNode(node, usage, mpanel.Resources{Cores: 3, MemoryMB: 1024, DiskGB: 10}), check.Equals, false)
	c.Check(FitsOnNode(node, usage, mpanel.Resources{Cores: 1, MemoryMB: 1024, DiskGB: 51}), check.Equals, false)
}
