// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// StubHypervisor implements the cloudpod-node command protocol in
// process. It tracks the VMIDs "running" on it, and can be told to
// fail specific subcommands a number of times to exercise retry
// paths.
type StubHypervisor struct {
	mtx       sync.Mutex
	vmids     map[int]bool
	snapshots int
	probe     map[int]string
	failures  map[string]int
	calls     []string
}

func NewStubHypervisor(existingVMIDs ...int) *StubHypervisor {
	hv := &StubHypervisor{
		vmids:    map[int]bool{},
		probe:    map[int]string{},
		failures: map[string]int{},
	}
	for _, id := range existingVMIDs {
		hv.vmids[id] = true
	}
	return hv
}

// FailNext makes the next n invocations of the given subcommand
// exit nonzero.
func (hv *StubHypervisor) FailNext(subcommand string, n int) {
	hv.mtx.Lock()
	defer hv.mtx.Unlock()
	hv.failures[subcommand] = n
}

// SetProbeStatus scripts the probe result for one VMID. Unscripted
// VMIDs report ok.
func (hv *StubHypervisor) SetProbeStatus(vmid int, status string) {
	hv.mtx.Lock()
	defer hv.mtx.Unlock()
	hv.probe[vmid] = status
}

// HasVMID reports whether the given VMID exists on the stub.
func (hv *StubHypervisor) HasVMID(vmid int) bool {
	hv.mtx.Lock()
	defer hv.mtx.Unlock()
	return hv.vmids[vmid]
}

// Calls returns every command executed so far.
func (hv *StubHypervisor) Calls() []string {
	hv.mtx.Lock()
	defer hv.mtx.Unlock()
	return append([]string(nil), hv.calls...)
}

func (hv *StubHypervisor) Close() {}

// Execute implements sshexec.Runner.
func (hv *StubHypervisor) Execute(ctx context.Context, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	hv.mtx.Lock()
	defer hv.mtx.Unlock()
	hv.calls = append(hv.calls, cmd)

	fields := strings.Fields(cmd)
	if len(fields) < 2 || fields[0] != "cloudpod-node" {
		return nil, nil, mpanel.RemoteExecutionError{Cmd: cmd, ExitCode: 127, Stderr: "command not found"}
	}
	sub := fields[1]
	if n := hv.failures[sub]; n > 0 {
		hv.failures[sub] = n - 1
		return nil, []byte("injected failure\n"), mpanel.RemoteExecutionError{Cmd: cmd, ExitCode: 1, Stderr: "injected failure"}
	}

	switch sub {
	case "list-ids":
		var ids []int
		for id := range hv.vmids {
			ids = append(ids, id)
		}
		if ids == nil {
			ids = []int{}
		}
		return resultBlock(map[string]interface{}{"vmids": ids}), nil, nil
	case "provision":
		vmid := intFlag(fields, "--vmid")
		ip := stringFlag(fields, "--ip")
		hv.vmids[vmid] = true
		return resultBlock(map[string]interface{}{"vmid": vmid, "ip": ip}), nil, nil
	case "resize":
		vmid := intFlag(fields, "--vmid")
		if !hv.vmids[vmid] {
			return nil, nil, mpanel.RemoteExecutionError{Cmd: cmd, ExitCode: 2, Stderr: "no such vmid"}
		}
		return resultBlock(map[string]interface{}{"vmid": vmid}), nil, nil
	case "destroy":
		delete(hv.vmids, intFlag(fields, "--vmid"))
		return resultBlock(map[string]interface{}{}), nil, nil
	case "snapshot":
		vmid := intFlag(fields, "--vmid")
		if !hv.vmids[vmid] {
			return nil, nil, mpanel.RemoteExecutionError{Cmd: cmd, ExitCode: 2, Stderr: "no such vmid"}
		}
		hv.snapshots++
		return resultBlock(map[string]interface{}{"snapshot": fmt.Sprintf("snap-%d-%d", vmid, hv.snapshots)}), nil, nil
	case "probe":
		vmid := intFlag(fields, "--vmid")
		status, ok := hv.probe[vmid]
		if !ok {
			status = "ok"
		}
		return resultBlock(map[string]interface{}{"status": status, "uptime": 12345, "load": 0.25}), nil, nil
	default:
		return nil, nil, mpanel.RemoteExecutionError{Cmd: cmd, ExitCode: 64, Stderr: "unknown subcommand"}
	}
}

func resultBlock(v interface{}) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return []byte("progress: done\n" + sshexec.ResultBegin + "\n" + string(buf) + "\n" + sshexec.ResultEnd + "\n")
}

func intFlag(fields []string, name string) int {
	for i, f := range fields {
		if f == name && i+1 < len(fields) {
			n, _ := strconv.Atoi(fields[i+1])
			return n
		}
	}
	return 0
}

func stringFlag(fields []string, name string) string {
	for i, f := range fields {
		if f == name && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
