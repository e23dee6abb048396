// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// mpanel-engine runs the CloudPod provisioning engine: the durable
// job queue, its worker pools, the health sweep scheduler and the
// management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/migrahosting-alt/mpanel-sub019/lib/config"
	"github.com/migrahosting-alt/mpanel-sub019/lib/engine"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/ctxlog"
)

func main() {
	os.Exit(runCommand(os.Args[1:], os.Stderr))
}

func runCommand(args []string, stderr *os.File) int {
	flags := flag.NewFlagSet("mpanel-engine", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", config.DefaultConfigFile, "configuration `file`")
	setupDB := flags.Bool("setup-db", false, "create/update the database schema and exit")
	if err := flags.Parse(args); err == flag.ErrHelp {
		return 0
	} else if err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := ctxlog.New(stderr, cfg.LogFormat, cfg.LogLevel)

	eng, err := engine.New(logger, cfg)
	if err != nil {
		logger.WithError(err).Error("setup failed")
		return 1
	}
	ctx := ctxlog.Context(context.Background(), logger)
	if err := eng.SetupDB(ctx); err != nil {
		logger.WithError(err).Error("database setup failed")
		return 1
	}
	if *setupDB {
		logger.Info("database schema is up to date")
		return 0
	}

	eng.Start()
	srv := &http.Server{Addr: cfg.Listen, Handler: eng.Router()}
	go func() {
		logger.WithField("Listen", cfg.Listen).Info("management API listening")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithError(err).Error("management API failed")
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigch
	logger.WithField("Signal", sig).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	eng.Stop()
	return 0
}
