// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mpanel

import (
	"errors"
	"fmt"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ErrorsSuite{})

type ErrorsSuite struct{}

func (s *ErrorsSuite) TestTransient(c *check.C) {
	c.Check(Transient(RemoteExecutionError{Cmd: "true", ExitCode: 1}), check.Equals, true)
	c.Check(Transient(RemoteTimeoutError{Cmd: "true"}), check.Equals, true)
	c.Check(Transient(fmt.Errorf("wrapped: %w", RemoteExecutionError{ExitCode: 1})), check.Equals, true)

	c.Check(Transient(ValidationError{Field: "cores"}), check.Equals, false)
	c.Check(Transient(AdmissionDenied{Reason: "over plan"}), check.Equals, false)
	c.Check(Transient(ErrNoEligibleNode), check.Equals, false)
	c.Check(Transient(CapacityExhaustedError{What: "vmid"}), check.Equals, false)
	c.Check(Transient(InvalidStateError{Op: "scale"}), check.Equals, false)
	c.Check(Transient(errors.New("miscellaneous")), check.Equals, false)
}

func (s *ErrorsSuite) TestNotFound(c *check.C) {
	c.Check(NotFound(InvalidStateError{Op: "get pod", ID: "x", Current: "missing"}), check.Equals, true)
	c.Check(NotFound(fmt.Errorf("lookup: %w", InvalidStateError{Current: "missing"})), check.Equals, true)
	c.Check(NotFound(InvalidStateError{Op: "retry", ID: "x", Current: "queued"}), check.Equals, false)
	c.Check(NotFound(errors.New("missing")), check.Equals, false)
}

func (s *ErrorsSuite) TestMessages(c *check.C) {
	c.Check(RemoteExecutionError{Cmd: "cloudpod-node destroy --vmid 9", ExitCode: 2, Stderr: "no such vmid"}.Error(),
		check.Equals, `remote command "cloudpod-node destroy --vmid 9" exited 2: no such vmid`)
	c.Check(CapacityExhaustedError{What: "vmid", RangeStart: 100, RangeEnd: 9999}.Error(),
		check.Equals, "no free vmid in range 100-9999")
	c.Check(InvalidStateError{Op: "scale", ID: "pod1", Current: "deleted"}.Error(),
		check.Equals, `cannot scale pod1: invalid state "deleted"`)
}
