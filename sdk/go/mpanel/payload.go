// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mpanel

import (
	"encoding/json"
	"fmt"
)

// A Payload is the type-specific body of a Job. Each job type has
// exactly one payload variant, validated before the job is
// persisted.
type Payload interface {
	JobType() JobType
	Validate() error
}

// CreatePayload provisions a new CloudPod.
type CreatePayload struct {
	Cores           int    `json:"cores"`
	MemoryMB        int    `json:"memory_mb"`
	SwapMB          int    `json:"swap_mb"`
	DiskGB          int    `json:"disk_gb"`
	Hostname        string `json:"hostname"`
	Domain          string `json:"domain,omitempty"`
	PreferredRegion string `json:"preferred_region,omitempty"`
	RequestedBy     string `json:"requested_by"`
}

func (CreatePayload) JobType() JobType { return JobTypeCreate }

func (p CreatePayload) Validate() error {
	switch {
	case p.Cores < 1:
		return ValidationError{Field: "cores", Reason: "must be >= 1"}
	case p.MemoryMB < 128:
		return ValidationError{Field: "memory_mb", Reason: "must be >= 128"}
	case p.DiskGB < 1:
		return ValidationError{Field: "disk_gb", Reason: "must be >= 1"}
	case p.SwapMB < 0:
		return ValidationError{Field: "swap_mb", Reason: "must be >= 0"}
	case p.Hostname == "":
		return ValidationError{Field: "hostname", Reason: "must not be empty"}
	}
	return nil
}

// ScalePayload resizes an existing CloudPod. Disk can only grow.
type ScalePayload struct {
	CloudPodID  string `json:"cloudpod_id"`
	Cores       int    `json:"cores"`
	MemoryMB    int    `json:"memory_mb"`
	SwapMB      int    `json:"swap_mb"`
	DiskGB      int    `json:"disk_gb"`
	PreBackup   bool   `json:"pre_backup,omitempty"`
	RequestedBy string `json:"requested_by"`
}

func (ScalePayload) JobType() JobType { return JobTypeScale }

func (p ScalePayload) Validate() error {
	switch {
	case p.CloudPodID == "":
		return ValidationError{Field: "cloudpod_id", Reason: "must not be empty"}
	case p.Cores < 1:
		return ValidationError{Field: "cores", Reason: "must be >= 1"}
	case p.MemoryMB < 128:
		return ValidationError{Field: "memory_mb", Reason: "must be >= 128"}
	case p.DiskGB < 0:
		return ValidationError{Field: "disk_gb", Reason: "must be >= 0"}
	}
	return nil
}

// DestroyPayload tears down a CloudPod.
type DestroyPayload struct {
	CloudPodID  string `json:"cloudpod_id"`
	RequestedBy string `json:"requested_by"`
}

func (DestroyPayload) JobType() JobType { return JobTypeDestroy }

func (p DestroyPayload) Validate() error {
	if p.CloudPodID == "" {
		return ValidationError{Field: "cloudpod_id", Reason: "must not be empty"}
	}
	return nil
}

// BackupPayload snapshots a CloudPod.
type BackupPayload struct {
	CloudPodID  string `json:"cloudpod_id"`
	RequestedBy string `json:"requested_by"`
}

func (BackupPayload) JobType() JobType { return JobTypeBackup }

func (p BackupPayload) Validate() error {
	if p.CloudPodID == "" {
		return ValidationError{Field: "cloudpod_id", Reason: "must not be empty"}
	}
	return nil
}

// HealthPayload probes one CloudPod, or the whole fleet when Fleet
// is set (the sweep marker used by the health sweep scheduler).
type HealthPayload struct {
	CloudPodID string `json:"cloudpod_id,omitempty"`
	Fleet      bool   `json:"fleet,omitempty"`
}

func (HealthPayload) JobType() JobType { return JobTypeHealth }

func (p HealthPayload) Validate() error {
	if p.Fleet == (p.CloudPodID != "") {
		return ValidationError{Field: "cloudpod_id", Reason: "exactly one of cloudpod_id and fleet must be given"}
	}
	return nil
}

// MarshalPayload validates p and returns its serialized form,
// suitable for Job.Payload.
func MarshalPayload(p Payload) (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes raw into the payload variant for the
// given job type.
func UnmarshalPayload(t JobType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case JobTypeCreate:
		p = &CreatePayload{}
	case JobTypeScale:
		p = &ScalePayload{}
	case JobTypeDestroy:
		p = &DestroyPayload{}
	case JobTypeBackup:
		p = &BackupPayload{}
	case JobTypeHealth:
		p = &HealthPayload{}
	default:
		return nil, ValidationError{Field: "jtype", Reason: fmt.Sprintf("unknown job type %q", t)}
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, ValidationError{Field: "payload", Reason: err.Error()}
	}
	return p, nil
}
