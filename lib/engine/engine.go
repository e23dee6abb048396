// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package engine wires the provisioning components together: job
// queue, worker pools, node selection, quota service, health sweep
// scheduler, ledger reconciliation and the management API.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	// sqlx needs lib/pq to talk to PostgreSQL
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/migrahosting-alt/mpanel-sub019/lib/collab"
	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	"github.com/migrahosting-alt/mpanel-sub019/lib/fleet"
	"github.com/migrahosting-alt/mpanel-sub019/lib/jobqueue"
	"github.com/migrahosting-alt/mpanel-sub019/lib/ledger"
	"github.com/migrahosting-alt/mpanel-sub019/lib/nodeselect"
	"github.com/migrahosting-alt/mpanel-sub019/lib/pods"
	"github.com/migrahosting-alt/mpanel-sub019/lib/quota"
	"github.com/migrahosting-alt/mpanel-sub019/lib/sweeper"
	"github.com/migrahosting-alt/mpanel-sub019/lib/worker"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

type Engine struct {
	Cfg    *config.Config
	Logger logrus.FieldLogger

	Registry  *prometheus.Registry
	DB        *sqlx.DB
	Queue     *jobqueue.Queue
	Pods      pods.Store
	Events    *pods.Recorder
	Nodes     fleet.NodeStore
	Ledger    ledger.Ledger
	Quota     *quota.Service
	Selector  *nodeselect.Selector
	Executors *worker.ExecutorPool

	pools   []*worker.Pool
	sweep   *sweeper.Sweeper
	started bool

	mDrifts       prometheus.Counter
	mExecDuration *prometheus.SummaryVec

	setupOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// New assembles an engine from the given configuration. With a
// PostgreSQL connection configured the stores are durable;
// otherwise everything runs in memory (ephemeral mode, useful for
// tests and local development).
func New(logger logrus.FieldLogger, cfg *config.Config) (*Engine, error) {
	eng := &Engine{
		Cfg:      cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		mDrifts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mpanel",
			Subsystem: "ledger",
			Name:      "drifts_repaired_total",
			Help:      "Number of ledger entries repaired by reconciliation.",
		}),
	}
	eng.Registry.MustRegister(eng.mDrifts)

	var jobStore jobqueue.Store
	if cfg.PostgreSQL.Connection != "" {
		db, err := sqlx.Open("postgres", cfg.PostgreSQL.Connection)
		if err != nil {
			return nil, fmt.Errorf("error opening database: %w", err)
		}
		if cfg.PostgreSQL.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.PostgreSQL.MaxConns)
		}
		eng.DB = db
		jobStore = jobqueue.NewPostgresStore(db)
		eng.Pods = pods.NewPostgresStore(db)
		eng.Ledger = ledger.NewPostgresLedger(db)
	} else {
		jobStore = jobqueue.NewMemStore()
		eng.Pods = pods.NewMemStore()
		eng.Ledger = ledger.NewMemLedger()
	}

	if len(cfg.Nodes) > 0 || eng.DB == nil {
		eng.Nodes = fleet.NewStaticStore(cfg.Nodes)
	} else {
		eng.Nodes = fleet.NewPostgresStore(eng.DB)
	}

	eng.Queue = jobqueue.NewQueue(logger, eng.Registry, jobStore)
	eng.Events = pods.NewRecorder(eng.Pods)
	eng.Quota = quota.NewService(cfg.PlanFor, eng.Ledger)
	eng.Selector = nodeselect.New(eng.Nodes, eng.Ledger, eng.Pods)

	signers, err := loadSigners(cfg.SSH.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	eng.Executors = worker.NewExecutorPool(signers...)

	eng.mExecDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:  "mpanel",
		Subsystem:  "sshexec",
		Name:       "command_duration_seconds",
		Help:       "Time spent running remote commands, by node and outcome.",
		MaxAge:     time.Minute,
		Objectives: map[float64]float64{0.95: 0.02, 0.9: 0.01, 0.5: 0.05},
	}, []string{"node_id", "outcome"})
	eng.Registry.MustRegister(eng.mExecDuration)
	eng.Registry.MustRegister(statsCollector{eng})

	return eng, nil
}

func loadSigners(keyfile string) ([]ssh.Signer, error) {
	if keyfile == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(keyfile)
	if err != nil {
		return nil, fmt.Errorf("error reading SSH key %s: %w", keyfile, err)
	}
	signer, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		return nil, fmt.Errorf("error parsing SSH key %s: %w", keyfile, err)
	}
	return []ssh.Signer{signer}, nil
}

// SetupDB creates or updates the database schema. No-op in
// ephemeral mode.
func (eng *Engine) SetupDB(ctx context.Context) error {
	if eng.DB == nil {
		return nil
	}
	for _, setup := range []func(context.Context, *sqlx.DB) error{
		jobqueue.SetupDB, pods.SetupDB, ledger.SetupDB, fleet.SetupDB,
	} {
		if err := setup(ctx, eng.DB); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the worker pools, the health sweep scheduler and
// the reconciliation loop. Extra calls are no-ops.
func (eng *Engine) Start() {
	eng.setupOnce.Do(func() {
		eng.started = true
		deps := &worker.Deps{
			Queue:     eng.Queue,
			Pods:      eng.Pods,
			Events:    eng.Events,
			Nodes:     eng.Nodes,
			Ledger:    eng.Ledger,
			Quota:     eng.Quota,
			Selector:  eng.Selector,
			Executors: eng.Executors,
			Ranges:    eng.Cfg.Ranges,
			SSLEmail:  eng.Cfg.SSLEmail,
			ExecDurations: func(nodeID string, elapsed time.Duration, err error) {
				outcome := "success"
				if err != nil {
					outcome = "error"
				}
				eng.mExecDuration.WithLabelValues(nodeID, outcome).Observe(elapsed.Seconds())
			},
		}
		if eng.Cfg.DNS.URL != "" {
			deps.DNS = collab.NewHTTPDNSProvider(eng.Logger, eng.Cfg.DNS)
		}
		if eng.Cfg.SSL.URL != "" {
			deps.SSL = collab.NewHTTPCertIssuer(eng.Logger, eng.Cfg.SSL)
		}
		for _, t := range mpanel.JobTypes {
			wp := worker.NewPool(eng.Logger, eng.Registry, eng.Queue, worker.NewRunner(deps, t), t,
				eng.Cfg.Workers[t], eng.Cfg.PollInterval.Duration())
			wp.Start()
			eng.pools = append(eng.pools, wp)
		}
		if ival := eng.Cfg.HealthSweepInterval.Duration(); ival > 0 {
			eng.sweep = sweeper.New(eng.Logger, eng.Queue, ival)
			eng.sweep.Start()
		}
		go eng.runReconcile()
	})
}

// Stop shuts everything down, waiting for in-flight jobs.
func (eng *Engine) Stop() {
	close(eng.stop)
	if eng.sweep != nil {
		eng.sweep.Stop()
	}
	for _, wp := range eng.pools {
		wp.Stop()
	}
	eng.Executors.Close()
	if eng.started {
		<-eng.stopped
	}
	if eng.DB != nil {
		eng.DB.Close()
	}
}

func (eng *Engine) runReconcile() {
	defer close(eng.stopped)
	ival := eng.Cfg.ReconcileInterval.Duration()
	if ival <= 0 {
		<-eng.stop
		return
	}
	ticker := time.NewTicker(ival)
	defer ticker.Stop()
	for {
		select {
		case <-eng.stop:
			return
		case <-ticker.C:
			ctx := ctxlog.Context(context.Background(), eng.Logger)
			if _, err := eng.ReconcileNow(ctx); err != nil {
				eng.Logger.WithError(err).Warn("ledger reconciliation failed")
			}
		}
	}
}

// ReconcileNow re-aggregates reserved pods against the ledger and
// repairs any drift found.
func (eng *Engine) ReconcileNow(ctx context.Context) ([]ledger.Drift, error) {
	reserved, err := eng.Pods.List(ctx, pods.ListFilter{OnlyReserved: true})
	if err != nil {
		return nil, err
	}
	drifts, err := ledger.Reconcile(ctx, eng.Ledger, reserved)
	if err != nil {
		return nil, err
	}
	eng.mDrifts.Add(float64(len(drifts)))
	return drifts, nil
}

// SweepNow enqueues a fleet health job unless one is already in
// flight.
func (eng *Engine) SweepNow(ctx context.Context) bool {
	if eng.sweep == nil {
		return sweeper.New(eng.Logger, eng.Queue, time.Minute).SweepNow(ctx)
	}
	return eng.sweep.SweepNow(ctx)
}
