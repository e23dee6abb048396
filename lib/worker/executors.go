// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package worker

import (
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/migrahosting-alt/mpanel-sub019/lib/sshexec"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// A RemoteExecutor runs commands on one hypervisor node.
type RemoteExecutor interface {
	sshexec.Runner
	Close()
}

// ExecutorPool hands out one shared RemoteExecutor per node, so all
// workers multiplex commands for a node over the same SSH
// connection.
type ExecutorPool struct {
	mtx   sync.Mutex
	execs map[string]*pooledExecutor
	// newExecutor is a test hook; the default builds an SSH
	// executor for the node.
	newExecutor func(mpanel.Node) RemoteExecutor
}

type pooledExecutor struct {
	address string
	exec    RemoteExecutor
}

// NewExecutorPool builds a pool whose executors authenticate with
// the given signers.
func NewExecutorPool(signers ...ssh.Signer) *ExecutorPool {
	return &ExecutorPool{
		execs: map[string]*pooledExecutor{},
		newExecutor: func(node mpanel.Node) RemoteExecutor {
			exr := sshexec.New(sshexec.NodeTarget{Node: node})
			exr.SetSigners(signers...)
			return exr
		},
	}
}

// NewStubExecutorPool builds a pool that hands out executors from
// the given factory instead of dialing SSH. Tests use this to
// substitute scripted executors.
func NewStubExecutorPool(factory func(mpanel.Node) RemoteExecutor) *ExecutorPool {
	return &ExecutorPool{
		execs:       map[string]*pooledExecutor{},
		newExecutor: factory,
	}
}

// For returns the shared executor for the given node, creating it
// on first use. A node whose address has changed gets a fresh
// executor; the stale one is closed.
func (ep *ExecutorPool) For(node mpanel.Node) RemoteExecutor {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	if pe, ok := ep.execs[node.ID]; ok {
		if pe.address == node.Address {
			return pe.exec
		}
		go pe.exec.Close()
	}
	pe := &pooledExecutor{address: node.Address, exec: ep.newExecutor(node)}
	ep.execs[node.ID] = pe
	return pe.exec
}

// Close closes all pooled executors.
func (ep *ExecutorPool) Close() {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	for id, pe := range ep.execs {
		pe.exec.Close()
		delete(ep.execs, id)
	}
}
