// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package promexport exposes the Coordinator's aggregate run state as
// Prometheus metrics: counters for cumulative ops/bytes/errors, and gauges
// for the per-heartbeat-interval rates and latency quantiles a live run
// dashboard needs. Coordinator-side only; a Node never imports this package.
package promexport

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iopulse/stats"
)

var modEnabled atomic.Bool

var (
	readOpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_read_ops_total",
		Help: "Cumulative read operations completed across all nodes",
	})
	writeOpsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_write_ops_total",
		Help: "Cumulative write operations completed across all nodes",
	})
	readBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_read_bytes_total",
		Help: "Cumulative bytes read across all nodes",
	})
	writeBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_write_bytes_total",
		Help: "Cumulative bytes written across all nodes",
	})
	readErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_read_errors_total",
		Help: "Cumulative read errors across all nodes",
	})
	writeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_write_errors_total",
		Help: "Cumulative write errors across all nodes",
	})
	verifyFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "iopulse_verify_failures_total",
		Help: "Cumulative data-verification failures across all nodes",
	})

	nodeIOPS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_node_iops",
		Help: "IOPS observed over the most recent heartbeat interval, per node",
	}, []string{"node"})
	nodeCPUPercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_node_cpu_percent",
		Help: "Per-thread-normalized CPU percentage of the node process",
	}, []string{"node"})
	nodeResidentMemoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_node_resident_memory_bytes",
		Help: "Resident memory of the node process in bytes",
	}, []string{"node"})
	readLatencyP50Ns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_read_latency_p50_nanoseconds",
		Help: "Read latency p50 over the most recent heartbeat interval, per node",
	}, []string{"node"})
	readLatencyP99Ns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_read_latency_p99_nanoseconds",
		Help: "Read latency p99 over the most recent heartbeat interval, per node",
	}, []string{"node"})
	writeLatencyP50Ns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_write_latency_p50_nanoseconds",
		Help: "Write latency p50 over the most recent heartbeat interval, per node",
	}, []string{"node"})
	writeLatencyP99Ns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iopulse_write_latency_p99_nanoseconds",
		Help: "Write latency p99 over the most recent heartbeat interval, per node",
	}, []string{"node"})
)

func init() {
	prometheus.MustRegister(
		readOpsTotal, writeOpsTotal, readBytesTotal, writeBytesTotal,
		readErrorsTotal, writeErrorsTotal, verifyFailuresTotal,
		nodeIOPS, nodeCPUPercent, nodeResidentMemoryBytes,
		readLatencyP50Ns, readLatencyP99Ns, writeLatencyP50Ns, writeLatencyP99Ns,
	)
}

// Enable turns on metrics collection and, if addr is non-empty, starts a
// dedicated HTTP server serving /metrics. Safe to call multiple times.
func Enable(addr string) {
	modEnabled.Store(true)
	if addr != "" {
		startMetricsEndpoint(addr)
	}
}

// Enabled reports whether the exporter is active.
func Enabled() bool { return modEnabled.Load() }

func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// ObserveDelta folds one heartbeat interval's delta into the cumulative
// counters and refreshes the per-node rate/quantile gauges. Called from the
// Coordinator each time it computes a DeltaPoint.
func ObserveDelta(nodeID string, delta *stats.WorkerSnapshot, iops float64) {
	if !modEnabled.Load() {
		return
	}
	readOpsTotal.Add(float64(delta.ReadOps))
	writeOpsTotal.Add(float64(delta.WriteOps))
	readBytesTotal.Add(float64(delta.ReadBytes))
	writeBytesTotal.Add(float64(delta.WriteBytes))
	readErrorsTotal.Add(float64(delta.ReadErrors))
	writeErrorsTotal.Add(float64(delta.WriteErrors))
	verifyFailuresTotal.Add(float64(delta.VerifyFailures))

	nodeIOPS.WithLabelValues(nodeID).Set(iops)
	readLatencyP50Ns.WithLabelValues(nodeID).Set(float64(delta.ReadLatency.Percentile(0.50)))
	readLatencyP99Ns.WithLabelValues(nodeID).Set(float64(delta.ReadLatency.Percentile(0.99)))
	writeLatencyP50Ns.WithLabelValues(nodeID).Set(float64(delta.WriteLatency.Percentile(0.50)))
	writeLatencyP99Ns.WithLabelValues(nodeID).Set(float64(delta.WriteLatency.Percentile(0.99)))
}

// ObserveResourceUsage refreshes a node's CPU/memory gauges from a heartbeat's
// resource-sampling fields.
func ObserveResourceUsage(nodeID string, cpuPercentPerThread float64, residentMemoryBytes int64) {
	if !modEnabled.Load() {
		return
	}
	nodeCPUPercent.WithLabelValues(nodeID).Set(cpuPercentPerThread)
	nodeResidentMemoryBytes.WithLabelValues(nodeID).Set(float64(residentMemoryBytes))
}
