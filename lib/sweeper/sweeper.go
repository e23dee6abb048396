// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package sweeper periodically enqueues fleet-wide health jobs. At
// most one sweep is in flight at a time: a tick that finds a queued
// or running sweep does nothing.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/lib/jobqueue"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

// SystemTenant owns jobs the engine enqueues on its own behalf.
const SystemTenant = "system"

type Sweeper struct {
	logger   logrus.FieldLogger
	queue    *jobqueue.Queue
	interval time.Duration

	startOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

func New(logger logrus.FieldLogger, queue *jobqueue.Queue, interval time.Duration) *Sweeper {
	return &Sweeper{
		logger:   logger,
		queue:    queue,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the sweep loop. Extra calls are no-ops.
func (sw *Sweeper) Start() {
	sw.startOnce.Do(func() {
		go sw.run()
	})
}

// Stop halts the loop and waits for it to exit.
func (sw *Sweeper) Stop() {
	close(sw.stop)
	<-sw.stopped
}

func (sw *Sweeper) run() {
	defer close(sw.stopped)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.SweepNow(ctxlog.Context(context.Background(), sw.logger))
		}
	}
}

// SweepNow enqueues one fleet health job unless a sweep is already
// queued or running. It reports whether a job was enqueued.
func (sw *Sweeper) SweepNow(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	active, err := sw.queue.HasActiveSweep(ctx)
	if err != nil {
		logger.WithError(err).Warn("error checking for active sweep")
		return false
	}
	if active {
		logger.Debug("sweep already in flight, skipping tick")
		return false
	}
	job, err := sw.queue.Enqueue(ctx, SystemTenant, mpanel.HealthPayload{Fleet: true})
	if err != nil {
		logger.WithError(err).Warn("error enqueueing health sweep")
		return false
	}
	logger.WithField("JobID", job.ID).Info("health sweep enqueued")
	return true
}
