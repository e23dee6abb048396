// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mpanel

import (
	"encoding/json"
	"testing"

	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&PayloadSuite{})

type PayloadSuite struct{}

func (s *PayloadSuite) TestValidate(c *check.C) {
	for _, trial := range []struct {
		payload  Payload
		errMatch string
	}{
		{CreatePayload{Cores: 2, MemoryMB: 1024, DiskGB: 20, Hostname: "web1"}, ""},
		{CreatePayload{Cores: 0, MemoryMB: 1024, DiskGB: 20, Hostname: "web1"}, `invalid payload: cores: .*`},
		{CreatePayload{Cores: 2, MemoryMB: 64, DiskGB: 20, Hostname: "web1"}, `invalid payload: memory_mb: .*`},
		{CreatePayload{Cores: 2, MemoryMB: 1024, DiskGB: 0, Hostname: "web1"}, `invalid payload: disk_gb: .*`},
		{CreatePayload{Cores: 2, MemoryMB: 1024, DiskGB: 20, SwapMB: -1, Hostname: "web1"}, `invalid payload: swap_mb: .*`},
		{CreatePayload{Cores: 2, MemoryMB: 1024, DiskGB: 20}, `invalid payload: hostname: .*`},
		{ScalePayload{CloudPodID: "pod1", Cores: 2, MemoryMB: 1024}, ""},
		{ScalePayload{CloudPodID: "pod1", Cores: 2, MemoryMB: 1024, DiskGB: 40}, ""},
		{ScalePayload{Cores: 2, MemoryMB: 1024}, `invalid payload: cloudpod_id: .*`},
		{ScalePayload{CloudPodID: "pod1", Cores: 0, MemoryMB: 1024}, `invalid payload: cores: .*`},
		{DestroyPayload{CloudPodID: "pod1"}, ""},
		{DestroyPayload{}, `invalid payload: cloudpod_id: .*`},
		{BackupPayload{CloudPodID: "pod1"}, ""},
		{BackupPayload{}, `invalid payload: cloudpod_id: .*`},
		{HealthPayload{CloudPodID: "pod1"}, ""},
		{HealthPayload{Fleet: true}, ""},
		{HealthPayload{}, `invalid payload: cloudpod_id: .*`},
		{HealthPayload{CloudPodID: "pod1", Fleet: true}, `invalid payload: cloudpod_id: .*`},
	} {
		c.Logf("== %#v", trial.payload)
		err := trial.payload.Validate()
		if trial.errMatch == "" {
			c.Check(err, check.IsNil)
		} else {
			c.Check(err, check.ErrorMatches, trial.errMatch)
		}
	}
}

func (s *PayloadSuite) TestMarshalRejectsInvalid(c *check.C) {
	_, err := MarshalPayload(CreatePayload{})
	c.Check(err, check.FitsTypeOf, ValidationError{})
}

func (s *PayloadSuite) TestRoundTrip(c *check.C) {
	raw, err := MarshalPayload(ScalePayload{CloudPodID: "pod1", Cores: 4, MemoryMB: 4096, DiskGB: 80, PreBackup: true})
	c.Assert(err, check.IsNil)
	payload, err := UnmarshalPayload(JobTypeScale, raw)
	c.Assert(err, check.IsNil)
	p, ok := payload.(*ScalePayload)
	c.Assert(ok, check.Equals, true)
	c.Check(p.CloudPodID, check.Equals, "pod1")
	c.Check(p.PreBackup, check.Equals, true)
}

func (s *PayloadSuite) TestUnmarshalErrors(c *check.C) {
	_, err := UnmarshalPayload(JobType("teleport"), json.RawMessage(`{}`))
	c.Check(err, check.ErrorMatches, `invalid payload: jtype: unknown job type "teleport"`)

	_, err = UnmarshalPayload(JobTypeCreate, json.RawMessage(`{not json`))
	c.Check(err, check.FitsTypeOf, ValidationError{})
}
