// Copyright (C) The MigraHosting Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/migrahosting-alt/mpanel-sub019/lib/pods"
	"github.com/migrahosting-alt/mpanel-sub019/sdk/go/mpanel"
)

var (
	descQueueDepth = prometheus.NewDesc(
		"mpanel_jobqueue_depth",
		"Number of jobs currently queued or running.",
		[]string{"jtype", "status"}, nil)
	descPodCount = prometheus.NewDesc(
		"mpanel_cloudpods",
		"Number of CloudPods by status.",
		[]string{"status"}, nil)
	descReservedCores = prometheus.NewDesc(
		"mpanel_node_reserved_cores",
		"Cores reserved on a node by non-terminal CloudPods.",
		[]string{"node_id"}, nil)
	descReservedMemory = prometheus.NewDesc(
		"mpanel_node_reserved_memory_mb",
		"Memory reserved on a node by non-terminal CloudPods.",
		[]string{"node_id"}, nil)
	descReservedDisk = prometheus.NewDesc(
		"mpanel_node_reserved_disk_gb",
		"Disk reserved on a node by non-terminal CloudPods.",
		[]string{"node_id"}, nil)
	descReservedPods = prometheus.NewDesc(
		"mpanel_node_reserved_cloudpods",
		"Number of CloudPods holding a reservation on a node.",
		[]string{"node_id"}, nil)
)

// statsCollector computes queue depth, pod counts, and per-node
// reservations from the stores at scrape time, so /metrics reflects
// the same state the admission path reads.
type statsCollector struct {
	eng *Engine
}

func (sc statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descQueueDepth
	ch <- descPodCount
	ch <- descReservedCores
	ch <- descReservedMemory
	ch <- descReservedDisk
	ch <- descReservedPods
}

func (sc statsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	if jobs, err := sc.eng.Queue.List(ctx, "", ""); err == nil {
		depth := map[mpanel.JobType]map[mpanel.JobStatus]int{}
		for _, job := range jobs {
			if job.Status != mpanel.JobQueued && job.Status != mpanel.JobRunning {
				continue
			}
			if depth[job.Type] == nil {
				depth[job.Type] = map[mpanel.JobStatus]int{}
			}
			depth[job.Type][job.Status]++
		}
		for jtype, byStatus := range depth {
			for status, n := range byStatus {
				ch <- prometheus.MustNewConstMetric(descQueueDepth, prometheus.GaugeValue, float64(n), string(jtype), string(status))
			}
		}
	} else {
		sc.eng.Logger.WithError(err).Warn("metrics: listing jobs failed")
	}
	if podlist, err := sc.eng.Pods.List(ctx, pods.ListFilter{}); err == nil {
		counts := map[mpanel.PodStatus]int{}
		for _, pod := range podlist {
			counts[pod.Status]++
		}
		for status, n := range counts {
			ch <- prometheus.MustNewConstMetric(descPodCount, prometheus.GaugeValue, float64(n), string(status))
		}
	} else {
		sc.eng.Logger.WithError(err).Warn("metrics: listing pods failed")
	}
	if entries, err := sc.eng.Ledger.Entries(ctx); err == nil {
		type reserved struct {
			res  mpanel.Resources
			pods int
		}
		byNode := map[string]reserved{}
		for _, entry := range entries {
			agg := byNode[entry.NodeID]
			agg.res = agg.res.Add(entry.Resources)
			agg.pods += entry.Pods
			byNode[entry.NodeID] = agg
		}
		for nodeID, agg := range byNode {
			ch <- prometheus.MustNewConstMetric(descReservedCores, prometheus.GaugeValue, float64(agg.res.Cores), nodeID)
			ch <- prometheus.MustNewConstMetric(descReservedMemory, prometheus.GaugeValue, float64(agg.res.MemoryMB), nodeID)
			ch <- prometheus.MustNewConstMetric(descReservedDisk, prometheus.GaugeValue, float64(agg.res.DiskGB), nodeID)
			ch <- prometheus.MustNewConstMetric(descReservedPods, prometheus.GaugeValue, float64(agg.pods), nodeID)
		}
	} else {
		sc.eng.Logger.WithError(err).Warn("metrics: listing ledger entries failed")
	}
}
