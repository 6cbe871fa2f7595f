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

// Command harness is a standalone, out-of-process microbenchmark that
// sweeps one Worker across a chosen backend/distribution pair against a
// scratch file and reports latency percentiles and throughput, independent
// of the Coordinator/Node wire protocol. It exists so a CI job or a
// developer can A/B two backends or two distributions with a single
// process invocation and grep-able output, the way the teacher's variant
// harness A/B'd rate-limiter strategies.
package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"iopulse/internal/ioengine/backend"
	"iopulse/internal/offset"
	"iopulse/internal/target"
	"iopulse/internal/worker"
)

// metrics accumulates per-op latency samples, downsampling once
// maxSamples is reached so memory stays bounded on a long sweep.
type metrics struct {
	latencies []time.Duration
	max       int

	// hdr cross-checks the bespoke sort-based percentiles against a
	// trusted reference implementation; it never backs a hot path.
	hdr *hdrhistogram.Histogram
}

func newMetrics(max int) *metrics {
	if max <= 0 {
		max = 200_000
	}
	return &metrics{max: max, hdr: hdrhistogram.New(1, 3600000000, 3)}
}

func (m *metrics) record(d time.Duration) {
	_ = m.hdr.RecordValue(d.Microseconds())
	if len(m.latencies) >= m.max {
		// drop every other sample to halve storage, then keep sampling at
		// the coarser rate implicitly (good enough for a percentile estimate).
		half := m.latencies[:0]
		for i := 0; i < len(m.latencies); i += 2 {
			half = append(half, m.latencies[i])
		}
		m.latencies = half
		m.max *= 2
	}
	m.latencies = append(m.latencies, d)
}

// hdrPercentile returns the hdr-tracked microsecond value at quantile q*100,
// for cross-validating percentile() against an independent implementation.
func (m *metrics) hdrPercentile(p float64) float64 {
	return float64(m.hdr.ValueAtQuantile(p * 100))
}

func (m *metrics) percentile(p float64) time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	var (
		backendStr  = flag.String("backend", "sync", "sync|uring|aio|mmap")
		distStr     = flag.String("distribution", "uniform", "uniform|zipf|pareto|gaussian")
		distTheta   = flag.Float64("distribution_theta", 0.99, "skew for zipf/pareto")
		gaussianMu  = flag.Float64("gaussian_mu", 0.5, "mean for gaussian")
		blockSize   = flag.Int("block_size", 4096, "I/O block size in bytes")
		readPercent = flag.Int("read_percent", 100, "percentage of operations that are reads")
		queueDepth  = flag.Int("queue_depth", 1, "per-worker in-flight I/O depth")
		fileSize    = flag.Int64("file_size", 256<<20, "scratch file size in bytes")
		filePath    = flag.String("file", "", "scratch file path (temp file if empty)")
		opCount     = flag.Int("ops", 200_000, "total operations (ignored if -duration > 0)")
		duration    = flag.Duration("duration", 0, "run for this duration instead of a fixed -ops (0 to disable)")
		pprofOn     = flag.Bool("pprof", false, "enable pprof on localhost:6060")
		maxSamples  = flag.Int("max_latency_samples", 200_000, "cap on stored latency samples")
	)
	flag.Parse()

	if *pprofOn {
		go func() { _ = http.ListenAndServe("localhost:6060", nil) }()
	}

	if err := run(*backendStr, *distStr, *distTheta, *gaussianMu, *blockSize, *readPercent, *queueDepth, *fileSize, *filePath, *opCount, *duration, *maxSamples); err != nil {
		fmt.Fprintln(os.Stderr, "harness:", err)
		os.Exit(1)
	}
}

func run(backendStr, distStr string, distTheta, gaussianMu float64, blockSize, readPercent, queueDepth int, fileSize int64, filePath string, opCount int, duration time.Duration, maxSamples int) error {
	path := filePath
	if path == "" {
		f, err := os.CreateTemp("", "iopulse-harness-*.dat")
		if err != nil {
			return fmt.Errorf("create scratch file: %w", err)
		}
		path = f.Name()
		defer os.Remove(path)
		f.Close()
	}

	tgt, err := target.Open(path, target.OpenMode{Write: true})
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer tgt.Close()
	if err := tgt.Preallocate(fileSize); err != nil {
		return fmt.Errorf("preallocate: %w", err)
	}

	be, resolved := backend.Select(backend.Kind(backendStr), queueDepth)
	dist := newDistribution(distStr, distTheta, gaussianMu)

	totalBlocks := fileSize / int64(blockSize)
	m := newMetrics(maxSamples)

	cfg := worker.Config{
		WorkerID:        0,
		QueueDepth:      queueDepth,
		BlockSize:       blockSize,
		Alignment:       512,
		ReadPercent:     readPercent,
		Distribution:    dist,
		Targets:         []*target.Target{tgt},
		TargetBlocks:    totalBlocks,
		Duration:        duration,
		TotalBytesLimit: int64(opCount) * int64(blockSize),
		ContinueOnError: true,
	}
	if duration > 0 {
		cfg.TotalBytesLimit = 0
	}

	w, err := worker.New(cfg, &instrumentedBackend{Backend: be, metrics: m})
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	start := time.Now()
	if err := w.Run(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	snap := w.Snapshot().Read()
	totalOps := snap.ReadOps + snap.WriteOps
	fmt.Printf("Variant: %s/%s Ops: %d\n", resolved, distStr, totalOps)
	fmt.Printf("Duration: %s Ops/sec: %.0f\n", elapsed.Truncate(time.Millisecond), float64(totalOps)/elapsed.Seconds())
	fmt.Printf("Latency p50: %.1fus p95: %.1fus p99: %.1fus\n",
		micros(m.percentile(0.50)), micros(m.percentile(0.95)), micros(m.percentile(0.99)))
	fmt.Printf("Latency(hdr) p50: %.1fus p95: %.1fus p99: %.1fus\n",
		m.hdrPercentile(0.50), m.hdrPercentile(0.95), m.hdrPercentile(0.99))
	fmt.Printf("IO: read_bytes=%d write_bytes=%d read_errors=%d write_errors=%d\n",
		snap.ReadBytes, snap.WriteBytes, snap.ReadErrors, snap.WriteErrors)
	return nil
}

func micros(d time.Duration) float64 { return float64(d.Nanoseconds()) / 1000 }

func newDistribution(name string, theta, mu float64) offset.Distribution {
	switch strings.ToLower(name) {
	case "zipf":
		return offset.NewZipf(1, theta)
	case "pareto":
		return offset.NewPareto(1, theta)
	case "gaussian":
		return offset.NewGaussian(1, mu, theta)
	default:
		return offset.NewUniform(1)
	}
}

// instrumentedBackend wraps a real backend.Backend so every completion's
// latency is recorded into metrics, without the backend implementations
// themselves needing to know a benchmark is watching.
type instrumentedBackend struct {
	backend.Backend
	metrics *metrics
	started map[uint64]time.Time
}

func (b *instrumentedBackend) Submit(op backend.Operation) error {
	if b.started == nil {
		b.started = make(map[uint64]time.Time)
	}
	b.started[op.Token] = time.Now()
	return b.Backend.Submit(op)
}

func (b *instrumentedBackend) PollCompletions(max int) ([]backend.Completion, error) {
	completions, err := b.Backend.PollCompletions(max)
	now := time.Now()
	for _, c := range completions {
		if t0, ok := b.started[c.Token]; ok {
			b.metrics.record(now.Sub(t0))
			delete(b.started, c.Token)
		}
	}
	return completions, err
}
