// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mpanel

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoEligibleNode means server selection exhausted the fleet. It
// is a hard admission failure: the caller must not retry
// automatically.
var ErrNoEligibleNode = errors.New("no eligible node satisfies the resource request")

// ValidationError rejects a bad enqueue payload before anything is
// persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// AdmissionDenied means a quota or capacity check failed. The job
// never reaches execution and no retry attempt is consumed.
type AdmissionDenied struct {
	Reason string
}

func (e AdmissionDenied) Error() string {
	return "admission denied: " + e.Reason
}

// RemoteExecutionError wraps a non-zero exit from a remote command.
// Transient from the engine's point of view: retried per job-type
// policy.
type RemoteExecutionError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote command %q exited %d: %s", e.Cmd, e.ExitCode, e.Stderr)
}

// RemoteTimeoutError means a remote command did not finish within
// the caller's deadline. The command may still be running on the
// node; reconciliation sweeps are the mitigation, not in-flight
// cancellation.
type RemoteTimeoutError struct {
	Cmd     string
	Timeout time.Duration
}

func (e RemoteTimeoutError) Error() string {
	return fmt.Sprintf("remote command %q timed out after %s", e.Cmd, e.Timeout)
}

// InvalidStateError means a caller attempted an illegal transition,
// e.g. retrying a job that is not failed. Integration error,
// surfaced immediately.
type InvalidStateError struct {
	Op      string
	ID      string
	Current string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s: invalid state %q", e.Op, e.ID, e.Current)
}

// CapacityExhaustedError means the VMID/IP allocation range is
// full. Terminal; requires operator intervention.
type CapacityExhaustedError struct {
	What       string
	RangeStart int
	RangeEnd   int
}

func (e CapacityExhaustedError) Error() string {
	return fmt.Sprintf("no free %s in range %d-%d", e.What, e.RangeStart, e.RangeEnd)
}

// NotFound reports whether err indicates a record that does not
// exist. Stores signal this as an InvalidStateError in state
// "missing".
func NotFound(err error) bool {
	var ise InvalidStateError
	return errors.As(err, &ise) && ise.Current == "missing"
}

// Transient reports whether err should be retried automatically by
// the owning worker (up to the job type's attempt limit).
// Validation, admission, selection and allocation failures are
// terminal by policy.
func Transient(err error) bool {
	var ree RemoteExecutionError
	var rte RemoteTimeoutError
	return errors.As(err, &ree) || errors.As(err, &rte)
}
