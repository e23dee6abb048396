// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package jobqueue

import (
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// Policy is the retry/backoff/timeout/concurrency envelope for one
// job type.
type Policy struct {
	// MaxAttempts bounds retries: a failed job can be requeued
	// while its attempts counter is below this.
	MaxAttempts int
	// BackoffBase is the delay before the first automatic
	// retry; it doubles per attempt.
	BackoffBase time.Duration
	// Timeout bounds a single execution, including remote
	// command time.
	Timeout time.Duration
	// Concurrency is the worker pool size for this type.
	Concurrency int
}

// Creates and destroys are capped low to bound simultaneous load on
// the hypervisors. Scale is strictly serialized: concurrent resizes
// contend for the same freed/claimed capacity. Health probes are
// cheap and read-only, and are never retried.
var policies = map[mpanel.JobType]Policy{
	mpanel.JobTypeCreate:  {MaxAttempts: 5, BackoffBase: 10 * time.Second, Timeout: 10 * time.Minute, Concurrency: 2},
	mpanel.JobTypeScale:   {MaxAttempts: 3, BackoffBase: 5 * time.Second, Timeout: 5 * time.Minute, Concurrency: 1},
	mpanel.JobTypeDestroy: {MaxAttempts: 3, BackoffBase: 10 * time.Second, Timeout: 5 * time.Minute, Concurrency: 2},
	mpanel.JobTypeBackup:  {MaxAttempts: 3, BackoffBase: 60 * time.Second, Timeout: 30 * time.Minute, Concurrency: 3},
	mpanel.JobTypeHealth:  {MaxAttempts: 0, BackoffBase: 0, Timeout: 2 * time.Minute, Concurrency: 5},
}

// PolicyFor returns the policy for the given job type.
func PolicyFor(t mpanel.JobType) Policy {
	return policies[t]
}

// BackoffDelay returns the delay before re-running a job that has
// already executed the given number of times (attempts >= 1).
func (p Policy) BackoffDelay(attempts int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
