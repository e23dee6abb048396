// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package worker runs one pool of workers per job type. Each
// worker loops claim -> process -> complete/fail against the job
// queue, orchestrating quota, server selection, remote execution,
// the CloudPod state machine and the ledger.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/migrahosting-alt/mpanel-sub019/lib/ctrlctx"
	"github.com/migrahosting-alt/mpanel-sub019/lib/jobqueue"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

const defaultPollInterval = time.Second

// A Runner executes one claimed job and returns its result
// payload. Runners must be idempotent per execution: a job can be
// re-run after a transient failure.
type Runner interface {
	Run(ctx context.Context, job *mpanel.Job) (result interface{}, err error)
}

// Pool runs N concurrent workers for a single job type.
type Pool struct {
	logger       lf
	queue        *jobqueue.Queue
	jobType      mpanel.JobType
	policy       jobqueue.Policy
	runner       Runner
	pollInterval time.Duration

	mRunning prometheus.Gauge

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once

	timersMtx sync.Mutex
	timers    map[*time.Timer]bool
	stopping  bool
	retryWG   sync.WaitGroup
}

type lf = logrus.FieldLogger

// NewPool builds a pool for the given job type. concurrency <= 0
// keeps the type's built-in policy value.
func NewPool(logger lf, reg *prometheus.Registry, queue *jobqueue.Queue, runner Runner, jobType mpanel.JobType, concurrency int, pollInterval time.Duration) *Pool {
	policy := jobqueue.PolicyFor(jobType)
	if concurrency > 0 {
		policy.Concurrency = concurrency
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	wp := &Pool{
		logger:       logger.WithField("JobType", jobType),
		queue:        queue,
		jobType:      jobType,
		policy:       policy,
		runner:       runner,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
		timers:       map[*time.Timer]bool{},
		mRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mpanel",
			Subsystem:   "worker",
			Name:        "jobs_running",
			Help:        "Number of jobs currently being processed by this pool.",
			ConstLabels: prometheus.Labels{"jtype": string(jobType)},
		}),
	}
	if reg != nil {
		reg.MustRegister(wp.mRunning)
	}
	return wp
}

// Start launches the pool's workers. Start can be called multiple
// times with no ill effect.
func (wp *Pool) Start() {
	wp.startOnce.Do(func() {
		hostname, _ := os.Hostname()
		for i := 0; i < wp.policy.Concurrency; i++ {
			workerID := fmt.Sprintf("%s/%s-%d", hostname, wp.jobType, i)
			wp.wg.Add(1)
			go wp.run(workerID)
		}
		wp.logger.WithField("Concurrency", wp.policy.Concurrency).Info("worker pool started")
	})
}

// Stop stops claiming new jobs, cancels pending backoff retries,
// and waits for in-flight jobs to finish.
func (wp *Pool) Stop() {
	close(wp.stop)
	wp.timersMtx.Lock()
	wp.stopping = true
	for tm := range wp.timers {
		if tm.Stop() {
			wp.retryWG.Done()
		}
		delete(wp.timers, tm)
	}
	wp.timersMtx.Unlock()
	wp.retryWG.Wait()
	wp.wg.Wait()
}

func (wp *Pool) run(workerID string) {
	defer wp.wg.Done()
	logger := wp.logger.WithField("WorkerID", workerID)
	ctx := ctxlog.Context(context.Background(), logger)
	for {
		select {
		case <-wp.stop:
			return
		default:
		}
		job, err := wp.queue.ClaimNext(ctx, wp.jobType, workerID)
		if err != nil {
			logger.WithError(err).Warn("error claiming job")
			wp.sleep()
			continue
		}
		if job == nil {
			wp.sleep()
			continue
		}
		wp.process(ctx, job)
	}
}

func (wp *Pool) sleep() {
	select {
	case <-wp.stop:
	case <-time.After(wp.pollInterval):
	}
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(buf), nil
}

// process runs one claimed job under the type's execution timeout,
// finalizes its status, and schedules an automatic retry for
// transient failures with attempts remaining. The retry goes
// through the queue's public Retry operation after the type's
// backoff delay; the queue itself never re-activates a failed job.
func (wp *Pool) process(ctx context.Context, job *mpanel.Job) {
	logger := ctxlog.FromContext(ctx).WithFields(logrus.Fields{
		"JobID":    job.ID,
		"TenantID": job.TenantID,
		"Attempt":  job.Attempts,
	})
	wp.mRunning.Inc()
	defer wp.mRunning.Dec()

	runCtx, cancel := context.WithTimeout(ctxlog.Context(ctx, logger), wp.policy.Timeout)
	defer cancel()
	runCtx, finish := ctrlctx.New(runCtx)
	result, err := wp.runner.Run(runCtx, job)
	finish(&err)

	// Finalization must not be cut short by the (possibly
	// exhausted) execution deadline.
	finCtx, finCancel := context.WithTimeout(ctxlog.Context(context.Background(), logger), 30*time.Second)
	defer finCancel()
	if err == nil {
		raw, merr := marshalResult(result)
		if merr != nil {
			logger.WithError(merr).Error("error encoding job result")
		}
		if cerr := wp.queue.Complete(finCtx, job.ID, raw); cerr != nil {
			logger.WithError(cerr).Error("error completing job")
		} else {
			logger.Info("job succeeded")
		}
		return
	}

	logger.WithError(err).Warn("job failed")
	if ferr := wp.queue.Fail(finCtx, job.ID, err.Error()); ferr != nil {
		// Most likely cancelled out from under us; the
		// terminal state stands.
		logger.WithError(ferr).Warn("error failing job")
		return
	}
	if mpanel.Transient(err) && job.Attempts < job.MaxAttempts {
		delay := wp.policy.BackoffDelay(job.Attempts + 1)
		logger.WithField("Delay", delay).Info("scheduling automatic retry")
		wp.scheduleRetry(logger, job.ID, delay)
	}
}

// scheduleRetry arms a backoff timer for the job. Timers are
// tracked so Stop can cancel pending retries instead of leaving
// them to fire after shutdown.
func (wp *Pool) scheduleRetry(logger lf, jobID string, delay time.Duration) {
	wp.timersMtx.Lock()
	defer wp.timersMtx.Unlock()
	if wp.stopping {
		return
	}
	wp.retryWG.Add(1)
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		defer wp.retryWG.Done()
		wp.timersMtx.Lock()
		delete(wp.timers, tm)
		stopping := wp.stopping
		wp.timersMtx.Unlock()
		if stopping {
			return
		}
		retryCtx, cancel := context.WithTimeout(ctxlog.Context(context.Background(), logger), 30*time.Second)
		defer cancel()
		if rerr := wp.queue.Retry(retryCtx, jobID); rerr != nil {
			// Cancelled or manually retried in the
			// meantime.
			logger.WithError(rerr).Debug("automatic retry not applied")
		}
	})
	wp.timers[tm] = true
}
