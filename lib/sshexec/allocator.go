// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package sshexec

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// A Runner executes a command on a remote node. *Executor is the
// production implementation.
type Runner interface {
	Execute(ctx context.Context, cmd string, stdin io.Reader) (stdout, stderr []byte, err error)
}

// ListIDsCommand is the node-side entry point that reports every
// VMID present on the host, including ones created out-of-band.
const ListIDsCommand = "cloudpod-node list-ids"

// NextAvailableID returns the lowest integer in [start, end] that
// does not appear in used.
func NextAvailableID(used []int, start, end int, what string) (int, error) {
	taken := make(map[int]bool, len(used))
	for _, id := range used {
		taken[id] = true
	}
	for id := start; id <= end; id++ {
		if !taken[id] {
			return id, nil
		}
	}
	return 0, mpanel.CapacityExhaustedError{What: what, RangeStart: start, RangeEnd: end}
}

// RemoteVMIDs queries the node for the VMIDs it actually has.
func RemoteVMIDs(ctx context.Context, exec Runner) ([]int, error) {
	stdout, _, err := exec.Execute(ctx, ListIDsCommand, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		VMIDs []int `json:"vmids"`
	}
	if err := ParseResult(stdout, &result); err != nil {
		return nil, err
	}
	return result.VMIDs, nil
}

// NextVMID allocates the lowest free VMID in [start, end], taking
// the union of the ids our own store knows about and a live query
// of the node. The union matters: ids created out-of-band (operator
// experiments, crashed half-provisions) exist only remotely, and
// ids for pods whose provisioning has not reached the node yet
// exist only locally.
func NextVMID(ctx context.Context, exec Runner, localIDs []int, start, end int) (int, error) {
	remoteIDs, err := RemoteVMIDs(ctx, exec)
	if err != nil {
		return 0, err
	}
	used := append(append([]int(nil), localIDs...), remoteIDs...)
	sort.Ints(used)
	return NextAvailableID(used, start, end, "vmid")
}

// NextIP allocates the lowest free address prefix+octet for octet
// in [start, end], given the addresses already assigned to
// non-deleted pods.
func NextIP(prefix string, start, end int, usedIPs []string) (string, error) {
	var used []int
	for _, ip := range usedIPs {
		rest, ok := strings.CutPrefix(ip, prefix)
		if !ok {
			continue
		}
		var octet int
		if _, err := fmt.Sscanf(rest, "%d", &octet); err == nil {
			used = append(used, octet)
		}
	}
	octet, err := NextAvailableID(used, start, end, "ip address")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", prefix, octet), nil
}
