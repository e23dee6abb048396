// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ledger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Drift is one (tenant, node) pair whose recorded reservation did
// not match the aggregate of its reserved pods.
type Drift struct {
	Recorded Entry `json:"recorded"`
	Expected Entry `json:"expected"`
}

// Reconcile re-aggregates the given reserved pods, compares the
// result to the ledger's entries, and repairs any mismatch.
// Returns the drifts found (already repaired).
//
// reserved must be the full set of pods currently holding a
// reservation (status provisioning/active/suspended/deleting).
func Reconcile(ctx context.Context, ldg Ledger, reserved []mpanel.CloudPod) ([]Drift, error) {
	expected := map[key]*Entry{}
	for _, pod := range reserved {
		k := key{pod.TenantID, pod.NodeID}
		ent, ok := expected[k]
		if !ok {
			ent = &Entry{TenantID: pod.TenantID, NodeID: pod.NodeID}
			expected[k] = ent
		}
		ent.Resources = ent.Resources.Add(pod.Res)
		ent.Pods++
	}

	recorded, err := ldg.Entries(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[key]bool{}
	var drifts []Drift
	for _, rec := range recorded {
		k := key{rec.TenantID, rec.NodeID}
		seen[k] = true
		want := Entry{TenantID: rec.TenantID, NodeID: rec.NodeID}
		if ent, ok := expected[k]; ok {
			want = *ent
		}
		if rec.Resources != want.Resources || rec.Pods != want.Pods {
			drifts = append(drifts, Drift{Recorded: rec, Expected: want})
		}
	}
	for k, want := range expected {
		if !seen[k] {
			drifts = append(drifts, Drift{
				Recorded: Entry{TenantID: k.tenantID, NodeID: k.nodeID},
				Expected: *want,
			})
		}
	}

	logger := ctxlog.FromContext(ctx)
	for _, drift := range drifts {
		logger.WithFields(logrus.Fields{
			"TenantID": drift.Expected.TenantID,
			"NodeID":   drift.Expected.NodeID,
			"Recorded": drift.Recorded.Resources,
			"Expected": drift.Expected.Resources,
		}).Warn("ledger drift detected, repairing")
		if err := ldg.SetEntry(ctx, drift.Expected); err != nil {
			return drifts, err
		}
	}
	return drifts, nil
}
