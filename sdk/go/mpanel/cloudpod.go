// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mpanel

import (
	"encoding/json"
	"time"
)

type PodStatus string

const (
	PodProvisioning PodStatus = "provisioning"
	PodActive       PodStatus = "active"
	PodSuspended    PodStatus = "suspended"
	PodDeleting     PodStatus = "deleting"
	PodDeleted      PodStatus = "deleted"
	PodFailed       PodStatus = "failed"
)

// Reserved reports whether a pod in this status holds a resource
// reservation in the ledger. The reservation is released exactly
// once, on the transition to deleted or failed; a pod mid-teardown
// (deleting) still occupies capacity on its node.
func (st PodStatus) Reserved() bool {
	switch st {
	case PodProvisioning, PodActive, PodSuspended, PodDeleting:
		return true
	default:
		return false
	}
}

// Resources is the cores/memory/disk footprint of a CloudPod, and
// the unit of accounting in the resource ledger.
type Resources struct {
	Cores    int `json:"cores" db:"cores"`
	MemoryMB int `json:"memory_mb" db:"memory_mb"`
	SwapMB   int `json:"swap_mb" db:"swap_mb"`
	DiskGB   int `json:"disk_gb" db:"disk_gb"`
}

// Add returns r with other's cores/memory/disk added. Swap is
// carried on the pod but not ledgered.
func (r Resources) Add(other Resources) Resources {
	r.Cores += other.Cores
	r.MemoryMB += other.MemoryMB
	r.DiskGB += other.DiskGB
	return r
}

// Sub returns r with other's cores/memory/disk subtracted.
func (r Resources) Sub(other Resources) Resources {
	r.Cores -= other.Cores
	r.MemoryMB -= other.MemoryMB
	r.DiskGB -= other.DiskGB
	return r
}

// A CloudPod is a provisioned lightweight container/VM workload
// owned by a tenant and placed on one hypervisor node.
//
// While Status.Reserved() is true, Res must equal the amount
// reserved for this pod in the ledger. Resource fields mutate only
// through the scale worker; Status mutates only through workers.
// Pods are soft-deleted (status deleted, DeletedAt set), never
// removed.
type CloudPod struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	VMID             int        `json:"vmid" db:"vmid"`
	Hostname         string     `json:"hostname" db:"hostname"`
	IP               string     `json:"ip" db:"ip"`
	NodeID           string     `json:"node_id" db:"node_id"`
	Status           PodStatus  `json:"status" db:"status"`
	Res              Resources  `json:"resources" db:"-"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at" db:"deleted_at"`
	LastBackupAt     *time.Time `json:"last_backup_at" db:"last_backup_at"`
	LastHealthStatus string     `json:"last_health_status" db:"last_health_status"`
	LastHealthAt     *time.Time `json:"last_health_at" db:"last_health_at"`
}

type EventType string

const (
	EventStateChange EventType = "state_change"
	EventBackup      EventType = "backup"
	EventHealth      EventType = "health"
	EventError       EventType = "error"
)

// A CloudPodEvent is an append-only history record tied to a pod,
// or fleet-wide (empty CloudPodID) for health sweeps. Events are
// write-once.
type CloudPodEvent struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	CloudPodID string          `json:"cloudpod_id" db:"cloudpod_id"`
	Type       EventType       `json:"etype" db:"etype"`
	Message    string          `json:"message" db:"message"`
	Data       json.RawMessage `json:"data" db:"data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const NodeRoleHypervisor = "hypervisor"

// A Node is a hypervisor host capable of running CloudPods.
// Read-mostly; updated by operators, not by the engine.
type Node struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	Address       string `json:"address" db:"address"`
	RemoteUser    string `json:"remote_user" db:"remote_user"`
	TotalCores    int    `json:"total_cores" db:"total_cores"`
	TotalMemoryMB int    `json:"total_memory_mb" db:"total_memory_mb"`
	TotalDiskGB   int    `json:"total_disk_gb" db:"total_disk_gb"`
	Role          string `json:"role" db:"role"`
	Region        string `json:"region" db:"region"`
	Active        bool   `json:"active" db:"active"`
	MaxCloudPods  int    `json:"max_cloudpods" db:"max_cloudpods"`
}
