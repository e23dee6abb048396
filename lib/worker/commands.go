// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"fmt"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Node-side commands. Every operation goes through the single
// cloudpod-node entry point installed on the hypervisors; see also
// sshexec.ListIDsCommand.

func provisionCommand(vmid int, hostname, ip string, res mpanel.Resources) string {
	return fmt.Sprintf("cloudpod-node provision --vmid %d --hostname %s --ip %s --cores %d --memory %d --swap %d --disk %d",
		vmid, hostname, ip, res.Cores, res.MemoryMB, res.SwapMB, res.DiskGB)
}

func resizeCommand(vmid int, res mpanel.Resources) string {
	return fmt.Sprintf("cloudpod-node resize --vmid %d --cores %d --memory %d --swap %d --disk %d",
		vmid, res.Cores, res.MemoryMB, res.SwapMB, res.DiskGB)
}

func destroyCommand(vmid int) string {
	return fmt.Sprintf("cloudpod-node destroy --vmid %d", vmid)
}

func snapshotCommand(vmid int) string {
	return fmt.Sprintf("cloudpod-node snapshot --vmid %d", vmid)
}

func probeCommand(vmid int) string {
	return fmt.Sprintf("cloudpod-node probe --vmid %d", vmid)
}

// provisionResult is the sentinel-delimited JSON block printed by a
// successful provision.
type provisionResult struct {
	VMID int    `json:"vmid"`
	IP   string `json:"ip"`
}

type snapshotResult struct {
	Snapshot string `json:"snapshot"`
}

type probeResult struct {
	Status string  `json:"status"`
	Uptime int64   `json:"uptime"`
	Load   float64 `json:"load"`
}
