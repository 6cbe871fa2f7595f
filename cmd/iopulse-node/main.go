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

// Package main provides the entry point for iopulse-node: the per-host
// process that accepts one Coordinator connection, optionally prepares its
// local dataset, then runs the assigned Workers and reports heartbeats and
// final RESULTS, per spec.md §4.5's Node-side lifecycle.
package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"iopulse/internal/dataset"
	"iopulse/internal/ioengine/backend"
	"iopulse/internal/layout"
	"iopulse/internal/node"
	"iopulse/internal/nodesvc"
	"iopulse/internal/obslog"
	"iopulse/internal/offset"
	"iopulse/internal/protocol"
	"iopulse/internal/resource"
	"iopulse/internal/target"
	"iopulse/internal/worker"
)

type nodeOpts struct {
	id          string
	listenAddr  string
	dataRoot    string
	sharedFile  string
	layoutDepth int
	layoutWidth int
	fileSize    int64
	debug       bool
}

func main() {
	var o nodeOpts

	root := &cobra.Command{
		Use:   "iopulse-node",
		Short: "Runs the I/O load generator's per-host worker process",
		Long: `iopulse-node listens for a single Coordinator connection, optionally
prepares the local dataset to the requested shape, then drives the Workers
assigned to it by CONFIG, reporting heartbeats and a final RESULTS message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(o)
		},
	}

	root.Flags().StringVar(&o.id, "id", hostnameOrFallback(), "this node's identity, reported in RESULTS/HEARTBEAT")
	root.Flags().StringVar(&o.listenAddr, "listen", ":7600", "control-plane listen address")
	root.Flags().StringVar(&o.dataRoot, "data-root", ".", "filesystem root under which target files live")
	root.Flags().StringVar(&o.sharedFile, "shared-file", "iopulse-shared.dat", "file name used under shared file distribution")
	root.Flags().IntVar(&o.layoutDepth, "layout-depth", 0, "layout depth recorded in the dataset marker (target files are placed directly under --data-root)")
	root.Flags().IntVar(&o.layoutWidth, "layout-width", 4, "layout width recorded in the dataset marker")
	root.Flags().Int64Var(&o.fileSize, "file-size", 1<<30, "size in bytes each target file is prepared to")
	root.Flags().BoolVar(&o.debug, "debug", false, "enable debug-level logging")

	if err := root.Execute(); err != nil {
		obslog.For("node").Error().Err(err).Msg("iopulse-node exited with error")
		os.Exit(1)
	}
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "node"
	}
	return h
}

func runNode(o nodeOpts) error {
	if o.debug {
		obslog.SetLevel(zerolog.DebugLevel)
	}
	log := obslog.For("node")

	ln, err := net.Listen("tcp", o.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", o.listenAddr, err)
	}
	defer ln.Close()
	log.Info().Str("addr", o.listenAddr).Str("node_id", o.id).Msg("listening for coordinator")

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("coordinator connected")

	sampler, err := resource.New()
	if err != nil {
		log.Warn().Err(err).Msg("resource sampler unavailable, heartbeats will omit CPU/memory")
		sampler = nil
	}

	sess := nodesvc.New(o.id, conn)
	sess.Sampler = samplerOrNil(sampler)
	sess.Prepare = func(workload protocol.WorkloadSpec, assignments []protocol.WorkerAssignment) error {
		return prepareDataset(o, workload, assignments)
	}
	sess.Build = func(cfg protocol.ConfigMsg) ([]*worker.Worker, error) {
		return buildWorkers(o, cfg)
	}

	if err := sess.Run(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	log.Info().Msg("run complete")
	return nil
}

// samplerOrNil adapts a possibly-nil *resource.Sampler to the node.Sampler
// interface; a nil *resource.Sampler passed directly would be a non-nil
// interface value with a nil receiver, so this is an explicit nil check.
func samplerOrNil(s *resource.Sampler) node.Sampler {
	if s == nil {
		return nil
	}
	return s
}

// prepareDataset maps the wire WorkloadSpec onto a local dataset.Prepare
// call. File paths are derived from this node's own --data-root and
// --shared-file flags rather than carried on the wire: dataset placement is
// a local filesystem concern, not something the Coordinator dictates.
func prepareDataset(o nodeOpts, workload protocol.WorkloadSpec, assignments []protocol.WorkerAssignment) error {
	paths := assignmentPaths(o, workload, assignments)
	if len(paths) == 0 {
		return nil
	}

	pattern := writePatternFromString(workload.WritePattern)
	params := layout.Params{
		Depth:      o.layoutDepth,
		Width:      o.layoutWidth,
		TotalFiles: len(paths),
		FileSize:   o.fileSize,
		BlockSize:  workload.BlockSize,
	}

	res, err := dataset.Prepare(dataset.Options{
		Root:         o.dataRoot,
		Paths:        paths,
		FileSize:     o.fileSize,
		Pattern:      pattern,
		BlockSize:    workload.BlockSize,
		LayoutParams: params,
	}, func(done, total int) {
		obslog.For("node").Debug().Int("done", done).Int("total", total).Msg("preparing dataset")
	})
	if err != nil {
		return fmt.Errorf("prepare dataset: %w", err)
	}
	obslog.For("node").Info().
		Bool("used_marker", res.UsedMarker).
		Int64("files_filled", res.FilesFilled).
		Int64("regions_refilled", res.RegionsRefilled).
		Msg("dataset prepared")
	return nil
}

func assignmentPaths(o nodeOpts, workload protocol.WorkloadSpec, assignments []protocol.WorkerAssignment) []string {
	switch workload.FileDistribution {
	case "per_worker", "file_list":
		paths := make([]string, 0, len(assignments))
		for _, a := range assignments {
			if a.FileName != "" {
				paths = append(paths, a.FileName)
			}
		}
		return paths
	default: // "shared"
		return []string{o.sharedFile}
	}
}

// buildWorkers constructs one *worker.Worker per assignment in cfg: a
// backend, a target, an offset distribution, and the resulting Config.
func buildWorkers(o nodeOpts, cfg protocol.ConfigMsg) ([]*worker.Worker, error) {
	w := cfg.Workload
	workers := make([]*worker.Worker, 0, len(cfg.Assignments))
	for i, a := range cfg.Assignments {
		tgt, region, totalBlocks, err := openAssignedTarget(o, w, a)
		if err != nil {
			closeWorkers(workers)
			return nil, fmt.Errorf("open target for worker %d: %w", a.WorkerID, err)
		}

		be, resolved := backend.Select(backend.Kind(w.Backend), w.QueueDepth)
		dist := distributionFromString(w.Distribution, int64(i), w.DistributionTheta, w.GaussianMu)

		// Per-op snapshot publication costs roughly 80% overhead on the
		// memory-mapped backend, so it alone batches to one publish per
		// 1000 ops; every other backend publishes every op.
		snapshotEvery := 1
		if resolved == backend.KindMmap {
			snapshotEvery = 1000
		}

		wk, err := worker.New(worker.Config{
			WorkerID:         a.WorkerID,
			QueueDepth:       w.QueueDepth,
			BlockSize:        w.BlockSize,
			Alignment:        w.Alignment,
			ReadPercent:      w.ReadPercent,
			Distribution:     dist,
			Targets:          []*target.Target{tgt},
			Region:           region,
			TargetBlocks:     totalBlocks,
			Duration:         durationFromMs(w.DurationMs),
			TotalBytesLimit:  w.TotalBytesLimit,
			RunUntilComplete: w.RunUntilComplete,
			WritePattern:     writePatternFromString(w.WritePattern),
			ContinueOnError:  w.ContinueOnError,
			ErrorCap:         w.ErrorCap,
			SnapshotEveryOps: snapshotEvery,
		}, be)
		if err != nil {
			_ = tgt.Close()
			closeWorkers(workers)
			return nil, fmt.Errorf("build worker %d: %w", a.WorkerID, err)
		}
		workers = append(workers, wk)
	}
	return workers, nil
}

func closeWorkers(workers []*worker.Worker) {
	for _, w := range workers {
		w.Stop()
	}
}

func openAssignedTarget(o nodeOpts, w protocol.WorkloadSpec, a protocol.WorkerAssignment) (*target.Target, worker.Region, int64, error) {
	path := o.sharedFile
	if a.FileName != "" {
		path = a.FileName
	}
	full := filepath.Join(o.dataRoot, path)

	tgt, err := target.Open(full, target.OpenMode{
		Write:  w.ReadPercent < 100,
		Direct: w.DirectIO,
	})
	if err != nil {
		return nil, worker.Region{}, 0, err
	}
	if w.FileLocking {
		if err := tgt.LockWhole(w.ReadPercent < 100); err != nil {
			_ = tgt.Close()
			return nil, worker.Region{}, 0, fmt.Errorf("lock: %w", err)
		}
	}

	size, err := tgt.Size()
	if err != nil {
		_ = tgt.Close()
		return nil, worker.Region{}, 0, err
	}
	totalBlocks := size / int64(w.BlockSize)

	region := worker.Region{}
	if a.RegionLo != a.RegionHi {
		// The assignment carries byte offsets; worker.Region is in blocks.
		region = worker.Region{Lo: a.RegionLo / int64(w.BlockSize), Hi: a.RegionHi / int64(w.BlockSize)}
	}
	return tgt, region, totalBlocks, nil
}

func distributionFromString(name string, seed int64, theta, mu float64) offset.Distribution {
	switch name {
	case "zipf":
		return offset.NewZipf(seed, theta)
	case "pareto":
		return offset.NewPareto(seed, theta)
	case "gaussian":
		return offset.NewGaussian(seed, mu, theta)
	default:
		return offset.NewUniform(seed)
	}
}

func writePatternFromString(name string) target.Pattern {
	switch name {
	case "zero":
		return target.PatternZero
	case "fixed_byte":
		return target.PatternFixedByte
	default:
		return target.PatternRandom
	}
}

func durationFromMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
