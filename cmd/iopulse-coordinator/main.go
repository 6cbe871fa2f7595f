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

// Package main provides the entry point for iopulse-coordinator: the
// process that dials every Node, hands out its share of the workload,
// drives the synchronized start/stop, and aggregates the RESULTS, per
// spec.md §4.5's Coordinator-side state machine.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"iopulse/internal/coordinator"
	"iopulse/internal/obslog"
	"iopulse/internal/partition"
	"iopulse/internal/promexport"
	"iopulse/internal/protocol"
	"iopulse/internal/resultsink"
	"iopulse/internal/safety"
	"iopulse/stats"
)

const heartbeatInterval = 1 * time.Second

type coordOpts struct {
	nodeAddrs []string
	workers   int

	blockSize        int
	readPercent      int
	accessPattern    string
	distribution     string
	distTheta        float64
	gaussianMu       float64
	queueDepth       int
	backend          string
	directIO         bool
	alignment        int
	durationSec      int64
	totalBytesLimit  int64
	runUntilComplete bool
	writePattern     string
	fileDistribution string
	fileSize         int64
	fileLocking      bool
	allowConflicts   bool
	continueOnError  bool
	errorCap         int

	metricsAddr    string
	resultSinkAddr string
	runID          string
	debug          bool
}

func main() {
	var o coordOpts
	var nodeAddrsCSV string

	root := &cobra.Command{
		Use:   "iopulse-coordinator",
		Short: "Drives a distributed I/O load test across one or more nodes",
		Long: `iopulse-coordinator dials every node listed by --nodes, hands each its
share of workers via CONFIG, synchronizes the run's start across clock
offsets, watches heartbeats, and aggregates the final RESULTS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.nodeAddrs = splitCSV(nodeAddrsCSV)
			if len(o.nodeAddrs) == 0 {
				return fmt.Errorf("at least one --nodes address is required")
			}
			return runCoordinator(o)
		},
	}

	f := root.Flags()
	f.StringVar(&nodeAddrsCSV, "nodes", "", "comma-separated node control-plane addresses (host:port)")
	f.IntVar(&o.workers, "workers", 1, "total worker count across all nodes")

	f.IntVar(&o.blockSize, "block-size", 4096, "I/O block size in bytes")
	f.IntVar(&o.readPercent, "read-percent", 100, "percentage of operations that are reads (0-100)")
	f.StringVar(&o.accessPattern, "access-pattern", "random", "random|sequential")
	f.StringVar(&o.distribution, "distribution", "uniform", "uniform|zipf|pareto|gaussian")
	f.Float64Var(&o.distTheta, "distribution-theta", 0.99, "skew parameter for zipf/pareto")
	f.Float64Var(&o.gaussianMu, "gaussian-mu", 0.5, "mean (fraction of address space) for gaussian")
	f.IntVar(&o.queueDepth, "queue-depth", 1, "per-worker in-flight I/O depth")
	f.StringVar(&o.backend, "backend", "sync", "sync|uring|aio|mmap")
	f.BoolVar(&o.directIO, "direct-io", false, "bypass the page cache (O_DIRECT)")
	f.IntVar(&o.alignment, "alignment", 512, "required alignment in bytes when direct-io is set")
	f.Int64Var(&o.durationSec, "duration", 60, "run duration in seconds (0 = unbounded, use total-bytes-limit or run-until-complete)")
	f.Int64Var(&o.totalBytesLimit, "total-bytes-limit", 0, "stop after this many bytes transferred (0 = unbounded)")
	f.BoolVar(&o.runUntilComplete, "run-until-complete", false, "stop once the assigned region/file list is covered once")
	f.StringVar(&o.writePattern, "write-pattern", "random", "random|zero|fixed_byte")
	f.StringVar(&o.fileDistribution, "file-distribution", "shared", "shared|per_worker|file_list|partitioned")
	f.Int64Var(&o.fileSize, "file-size", 0, "shared file size in bytes; required when --file-distribution=partitioned")
	f.BoolVar(&o.fileLocking, "file-locking", false, "take an advisory lock on each worker's whole target file for the run")
	f.BoolVar(&o.allowConflicts, "allow-write-conflicts", false, "acknowledge unsynchronized concurrent writes to a shared file")
	f.BoolVar(&o.continueOnError, "continue-on-error", true, "keep running a worker past a non-fatal I/O error")
	f.IntVar(&o.errorCap, "error-cap", 0, "stop a worker after this many errors (0 = unbounded)")

	f.StringVar(&o.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	f.StringVar(&o.resultSinkAddr, "result-sink-addr", "", "Redis address to idempotently persist RESULTS to (empty disables)")
	f.StringVar(&o.runID, "run-id", "", "identifier stored alongside results when --result-sink-addr is set (defaults to a timestamp)")
	f.BoolVar(&o.debug, "debug", false, "enable debug-level logging")

	if err := root.Execute(); err != nil {
		obslog.For("coordinator").Error().Err(err).Msg("iopulse-coordinator exited with error")
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runCoordinator(o coordOpts) error {
	if o.debug {
		obslog.SetLevel(zerolog.DebugLevel)
	}
	log := obslog.For("coordinator")

	workload := protocol.WorkloadSpec{
		BlockSize:           o.blockSize,
		ReadPercent:         o.readPercent,
		AccessPattern:       o.accessPattern,
		Distribution:        o.distribution,
		DistributionTheta:   o.distTheta,
		GaussianMu:          o.gaussianMu,
		QueueDepth:          o.queueDepth,
		Backend:             o.backend,
		DirectIO:            o.directIO,
		Alignment:           o.alignment,
		DurationMs:          o.durationSec * 1000,
		TotalBytesLimit:     o.totalBytesLimit,
		RunUntilComplete:    o.runUntilComplete,
		WritePattern:        o.writePattern,
		FileDistribution:    o.fileDistribution,
		FileLocking:         o.fileLocking,
		AllowWriteConflicts: o.allowConflicts,
		ContinueOnError:     o.continueOnError,
		ErrorCap:            o.errorCap,
	}

	if err := safety.Check(workload, o.workers); err != nil {
		return err
	}

	if o.metricsAddr != "" {
		promexport.Enable(o.metricsAddr)
		log.Info().Str("addr", o.metricsAddr).Msg("metrics endpoint enabled")
	}

	assignments, err := partition.Assign(o.nodeAddrs, o.workers)
	if err != nil {
		return fmt.Errorf("partition work: %w", err)
	}
	perNode, err := groupAssignments(assignments, o.fileDistribution, o.fileSize)
	if err != nil {
		return err
	}

	handles, conns, err := dialAndConfigure(o.nodeAddrs, workload, perNode)
	if err != nil {
		return err
	}
	coord := coordinator.New(handles)
	defer coord.CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Info().Int("nodes", len(handles)).Int("workers", o.workers).Msg("run started")

	runHeartbeatLoop(ctx, coord, conns, log)

	if err := coord.Stop(); err != nil {
		log.Warn().Err(err).Msg("error sending stop")
	}
	results := coord.CollectResults()
	total := coord.Aggregate(results)

	if o.resultSinkAddr != "" {
		runID := o.runID
		if runID == "" {
			runID = fmt.Sprintf("run-%d", time.Now().UnixNano())
		}
		evaler := resultsink.NewGoRedisEvaler(o.resultSinkAddr)
		sink := resultsink.NewRedisSink(evaler, 24*time.Hour)
		maybeStoreResults(ctx, sink, runID, results)
		if err := evaler.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing result sink connection")
		}
	}

	printSummary(log, results, total)
	return nil
}

// groupAssignments turns partition.Assign's flat global assignment list
// into one protocol.WorkerAssignment slice per node, with byte or index
// ranges filled in according to the chosen file distribution mode.
//
// "partitioned" splits the single shared file into one contiguous byte
// region per worker via partition.ByteRegions, per spec.md §4.5's
// "Single file: contiguous byte regions of size ⌊file_size/total_workers⌋".
func groupAssignments(assignments []partition.Assignment, fileDistribution string, fileSize int64) (map[string][]protocol.WorkerAssignment, error) {
	var regions []partition.ByteRegion
	if fileDistribution == "partitioned" {
		if fileSize <= 0 {
			return nil, fmt.Errorf("--file-distribution=partitioned requires --file-size > 0")
		}
		regions = partition.ByteRegions(fileSize, len(assignments))
	}

	perNode := make(map[string][]protocol.WorkerAssignment)
	for _, a := range assignments {
		wa := protocol.WorkerAssignment{WorkerID: a.LocalID}
		switch fileDistribution {
		case "per_worker", "file_list":
			wa.FileName = partition.PerWorkerFileName(a.GlobalIndex)
		case "partitioned":
			region := regions[a.GlobalIndex]
			wa.RegionLo, wa.RegionHi = region.Lo, region.Hi
		}
		perNode[a.NodeID] = append(perNode[a.NodeID], wa)
	}
	return perNode, nil
}

// nodeConn pairs a node's ID with the raw connection Connect wrapped, so
// the heartbeat loop can read frames directly; NodeHandle itself keeps its
// connection unexported since only Coordinator's own methods need it.
type nodeConn struct {
	nodeID string
	conn   net.Conn
}

func dialAndConfigure(nodeAddrs []string, workload protocol.WorkloadSpec, perNode map[string][]protocol.WorkerAssignment) ([]*coordinator.NodeHandle, []nodeConn, error) {
	handles := make([]*coordinator.NodeHandle, 0, len(nodeAddrs))
	conns := make([]nodeConn, 0, len(nodeAddrs))
	for _, addr := range nodeAddrs {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			closeHandles(handles)
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		assignments := perNode[addr]
		cfg := protocol.ConfigMsg{
			Workload:    workload,
			WorkerCount: len(assignments),
			Assignments: assignments,
		}
		h, err := coordinator.Connect(addr, conn, cfg)
		if err != nil {
			conn.Close()
			closeHandles(handles)
			return nil, nil, fmt.Errorf("connect %s: %w", addr, err)
		}
		handles = append(handles, h)
		conns = append(conns, nodeConn{nodeID: addr, conn: conn})
	}
	return handles, conns, nil
}

func closeHandles(handles []*coordinator.NodeHandle) {
	for _, h := range handles {
		_ = h.Close()
	}
}

// runHeartbeatLoop reads one message at a time from every node, folding
// HEARTBEATs into the Coordinator's delta series and Prometheus gauges,
// until ctx is canceled (SIGINT/SIGTERM) or WatchOnce reports a dead node.
//
// Each reader polls its conn with a short read deadline instead of blocking
// forever, so it can honor the stop signal and hand the connection back
// fully idle before the caller's Stop/CollectResults reads from it —
// Coordinator's own methods read the same net.Conn directly, and two
// concurrent readers on one socket would race for frames.
func runHeartbeatLoop(ctx context.Context, coord *coordinator.Coordinator, conns []nodeConn, log zerolog.Logger) {
	type heartbeatEvent struct {
		nodeID string
		msg    protocol.HeartbeatMsg
		err    error
	}
	events := make(chan heartbeatEvent, len(conns))
	var stopReading atomic.Bool
	var wg sync.WaitGroup

	for _, nc := range conns {
		wg.Add(1)
		go func(nc nodeConn) {
			defer wg.Done()
			defer nc.conn.SetReadDeadline(time.Time{})
			for {
				if stopReading.Load() {
					return
				}
				_ = nc.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
				msg, err := protocol.Read(nc.conn)
				if err != nil {
					if isTimeout(err) {
						continue
					}
					events <- heartbeatEvent{nodeID: nc.nodeID, err: err}
					return
				}
				if msg.Type != protocol.MsgHeartbeat {
					continue
				}
				var hb protocol.HeartbeatMsg
				if err := msg.Decode(&hb); err != nil {
					events <- heartbeatEvent{nodeID: nc.nodeID, err: err}
					return
				}
				events <- heartbeatEvent{nodeID: nc.nodeID, msg: hb}
			}
		}(nc)
	}
	defer func() {
		stopReading.Store(true)
		wg.Wait()
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown requested")
			return
		case <-ticker.C:
			if failedID, err := coord.WatchOnce(); err != nil {
				log.Warn().Err(err).Msg("dead-man check error")
			} else if failedID != "" {
				log.Error().Str("node", failedID).Msg("node went silent, stopping run")
				return
			}
		case ev := <-events:
			if ev.err != nil {
				log.Warn().Str("node", ev.nodeID).Err(ev.err).Msg("heartbeat read failed")
				continue
			}
			point, _, err := coord.HandleHeartbeat(ev.nodeID, ev.msg)
			if err != nil {
				log.Warn().Err(err).Msg("handle heartbeat")
				continue
			}
			if err := coord.Acknowledge(ev.nodeID); err != nil {
				log.Warn().Str("node", ev.nodeID).Err(err).Msg("acknowledge heartbeat")
			}
			promexport.ObserveDelta(ev.nodeID, &point.Delta, point.IOPS)
			promexport.ObserveResourceUsage(ev.nodeID, ev.msg.Cumulative.CPUPercentPerThreadNormalized, ev.msg.Cumulative.ResidentMemoryBytes)
			log.Debug().Str("node", ev.nodeID).Float64("iops", point.IOPS).Msg("heartbeat")
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func printSummary(log zerolog.Logger, results []coordinator.Result, total stats.WorkerSnapshot) {
	for _, r := range results {
		if r.Err != nil {
			log.Error().Str("node", r.NodeID).Err(r.Err).Msg("node reported no results")
			continue
		}
		log.Info().
			Str("node", r.NodeID).
			Int64("read_ops", r.Final.ReadOps).
			Int64("write_ops", r.Final.WriteOps).
			Int64("read_bytes", r.Final.ReadBytes).
			Int64("write_bytes", r.Final.WriteBytes).
			Int64("read_errors", r.Final.ReadErrors).
			Int64("write_errors", r.Final.WriteErrors).
			Msg("node results")
	}
	fmt.Printf("total: read_ops=%d write_ops=%d read_bytes=%d write_bytes=%d\n",
		total.ReadOps, total.WriteOps, total.ReadBytes, total.WriteBytes)
}

// maybeStoreResults persists results via an optional resultsink.Sink; kept
// as a free function so runCoordinator can pass either a Redis-backed sink
// (--result-sink-addr) or, in the future, a Kafka one, without changing its
// own control flow.
func maybeStoreResults(ctx context.Context, sink resultsink.Sink, runID string, results []coordinator.Result) {
	if sink == nil {
		return
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		rec := resultsink.Record{RunID: runID, NodeID: r.NodeID, Final: r.Final, PerWorker: r.PerWorker}
		if err := sink.StoreResult(ctx, rec); err != nil {
			obslog.For("coordinator").Warn().Str("node", r.NodeID).Err(err).Msg("store result")
		}
	}
}
