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

// Package worker implements the execution loop every Worker runs: Fill,
// Poll, CheckStop, Snapshot&Think, in that order, per spec.md §4.2. The
// loop's stop-channel-gated shape is adapted from this
// codebase's commitLoop/runCommitCycle pattern, generalized from batching
// commits to batching I/O submissions.
package worker

import (
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"iopulse/buffer"
	"iopulse/clock"
	"iopulse/histogram"
	"iopulse/internal/ioengine/backend"
	"iopulse/internal/offset"
	"iopulse/internal/target"
	"iopulse/stats"
)

// ThinkMode selects how a worker waits between completion and next submit.
type ThinkMode int

const (
	ThinkNone ThinkMode = iota
	ThinkSleep
	ThinkSpin
)

// ThinkConfig configures inter-operation think time, excluded from latency
// histograms by construction (spec.md §4.2, §9).
type ThinkConfig struct {
	Mode           ThinkMode
	Base           time.Duration
	AdaptivePercent float64 // base + (latency_of_previous_op * percent/100)
}

// Region is an assigned, half-open block-index range for partitioned
// workloads (spec.md §4.5's global work partitioning).
type Region struct {
	Lo, Hi int64 // block indices
}

func (r Region) size() int64 { return r.Hi - r.Lo }

// Config describes one worker's assignment.
type Config struct {
	WorkerID     int
	QueueDepth   int
	BlockSize    int
	Alignment    int
	ReadPercent  int // 0-100
	Distribution offset.Distribution
	Targets      []*target.Target
	Region       Region // zero value means "shared": draw from [0, TargetBlocks)
	TargetBlocks int64  // n_blocks for the (single) target in scope

	Duration        time.Duration // 0 = unbounded by duration
	TotalBytesLimit int64         // 0 = unbounded by byte count
	RunUntilComplete bool         // with a Region: stop after Region-size completed ops (a count; which blocks were hit is not tracked); no effect without a Region

	Think           ThinkConfig
	WritePattern    target.Pattern
	ContinueOnError bool
	ErrorCap        int

	SnapshotEveryOps int // 1 for most backends, 1000 for mmap (spec.md §4.2)
	CheckStopEvery   int // default 100
}

// InFlightRecord is held between submit and completion.
type InFlightRecord struct {
	Slot     int32
	Kind     backend.OpKind
	Offset   int64
	Length   int64
	SubmitNs int64
}

// Snapshot is the thread-safe shared slot a Worker publishes its cumulative
// stats into; spec.md §5's "sole shared mutable per-worker structure."
type Snapshot struct {
	mu   sync.Mutex
	snap stats.WorkerSnapshot
}

// Publish copies src into the slot under a brief lock.
func (s *Snapshot) Publish(src *stats.WorkerSnapshot) {
	s.mu.Lock()
	s.snap = *src
	s.mu.Unlock()
}

// Read returns a consistent cumulative copy of the slot.
func (s *Snapshot) Read() stats.WorkerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Worker drives one Backend against its assigned Targets.
type Worker struct {
	cfg     Config
	be      backend.Backend
	pool    *buffer.Pool
	rng     *rand.Rand
	snap    Snapshot
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex

	localStats   stats.WorkerSnapshot
	inFlight     map[uint64]*InFlightRecord // keyed by submit token
	lastLatency  time.Duration
	errorCount   int
	abortErr     error // set by recordError once ErrorCap/ContinueOnError trips
	opsSinceStop int
	opsSinceSnap int
	opsDone      int64
	lastOffset   int64
	nextToken    uint64
}

// New builds a worker and its backend/buffer pool from cfg.
func New(cfg Config, be backend.Backend) (*Worker, error) {
	if cfg.CheckStopEvery <= 0 {
		cfg.CheckStopEvery = 100
	}
	if cfg.SnapshotEveryOps <= 0 {
		cfg.SnapshotEveryOps = 1
	}
	slack := 4
	pool, err := buffer.NewPool(cfg.QueueDepth+slack, cfg.BlockSize, cfg.Alignment)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.WorkerID, err)
	}
	if err := be.Init(backend.InitConfig{QueueDepth: cfg.QueueDepth, Alignment: cfg.Alignment, WorkerCapacityHint: cfg.QueueDepth + slack}); err != nil {
		return nil, fmt.Errorf("worker %d: backend init: %w", cfg.WorkerID, err)
	}
	w := &Worker{
		cfg:      cfg,
		be:       be,
		pool:     pool,
		rng:      rand.New(rand.NewSource(int64(cfg.WorkerID)*2654435761 + 1)),
		stopCh:   make(chan struct{}),
		inFlight: make(map[uint64]*InFlightRecord),
	}
	w.localStats.ReadLatency = *histogram.New()
	w.localStats.WriteLatency = *histogram.New()
	w.localStats.LockLatency = *histogram.New()
	for i := range w.localStats.MetadataLatency {
		w.localStats.MetadataLatency[i] = *histogram.New()
	}
	if cfg.Region.size() > 0 {
		w.lastOffset = cfg.Region.Lo
	}
	return w, nil
}

// Snapshot returns the worker's shared snapshot slot for the per-node
// aggregator to read.
func (w *Worker) Snapshot() *Snapshot { return &w.snap }

// Stop requests the worker finish in-flight operations and exit without
// submitting new ones; Run checks for it on every loop iteration and fill
// before each submission (spec.md §5).
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// Run executes the four-phase loop until a stop predicate holds and
// in-flight is zero, or an external Stop()/fatal error occurs.
func (w *Worker) Run() error {
	start := time.Now()
	defer w.be.Cleanup()
	defer w.pool.Close()

	tgt := w.cfg.Targets[0]
	for {
		w.fill(tgt)
		if w.abortErr != nil {
			return w.abortErr
		}
		if err := w.poll(); err != nil {
			return err
		}

		w.opsSinceStop++
		if w.opsSinceStop >= w.cfg.CheckStopEvery {
			w.opsSinceStop = 0
			if w.shouldStop(start) && len(w.inFlight) == 0 {
				return nil
			}
		}
		if w.stopRequested() && len(w.inFlight) == 0 {
			return nil
		}

		w.think()
	}
}

func (w *Worker) shouldStop(start time.Time) bool {
	if w.cfg.Duration > 0 && time.Since(start) >= w.cfg.Duration {
		return true
	}
	totalBytes := w.localStats.ReadBytes + w.localStats.WriteBytes
	if w.cfg.TotalBytesLimit > 0 && totalBytes >= w.cfg.TotalBytesLimit {
		return true
	}
	if w.cfg.RunUntilComplete {
		regionSize := w.cfg.Region.size()
		if regionSize > 0 {
			opsNeeded := regionSize // one op per block of the region, counted, not deduplicated
			if w.opsDone >= opsNeeded {
				return true
			}
		}
	}
	return w.stopRequested()
}

func (w *Worker) fill(tgt *target.Target) {
	for len(w.inFlight) < w.cfg.QueueDepth && !w.stopRequested() && w.abortErr == nil {
		slot, buf, ok := w.pool.Acquire()
		if !ok {
			break
		}
		isRead := int(w.rng.Int31n(100)) < w.cfg.ReadPercent
		blockIdx := w.nextBlockIndex()
		offsetBytes := blockIdx * int64(w.cfg.BlockSize)

		kind := backend.OpRead
		if !isRead {
			kind = backend.OpWrite
			target.FillBuffer(buf, w.cfg.WritePattern, 0xAA, w.rng)
		}

		w.nextToken++
		token := w.nextToken
		submitNs := clock.NowNanos()
		op := backend.Operation{
			Kind:       kind,
			Target:     tgt,
			Offset:     offsetBytes,
			Length:     int64(w.cfg.BlockSize),
			Buffer:     buf,
			BufferSlot: slot,
			Token:      token,
		}
		if err := w.be.Submit(op); err != nil {
			w.pool.Release(slot)
			w.recordError(kind)
			continue
		}
		w.inFlight[token] = &InFlightRecord{Slot: slot, Kind: kind, Offset: offsetBytes, Length: op.Length, SubmitNs: submitNs}
	}
}

// nextBlockIndex returns the next offset distribution draw: over
// [0, TargetBlocks) in shared mode, or over the assigned region's size and
// shifted by Region.Lo when a region is assigned. There is no sequential
// cursor; every index comes from cfg.Distribution.
func (w *Worker) nextBlockIndex() int64 {
	regionSize := w.cfg.Region.size()
	if regionSize > 0 {
		idx := w.cfg.Distribution.Next(regionSize)
		return w.cfg.Region.Lo + idx
	}
	return w.cfg.Distribution.Next(w.cfg.TargetBlocks)
}

func (w *Worker) poll() error {
	if len(w.inFlight) == 0 {
		return nil
	}
	completions, err := w.be.PollCompletions(len(w.inFlight))
	if err != nil {
		return fmt.Errorf("worker %d: poll completions: %w", w.cfg.WorkerID, err)
	}
	for _, c := range completions {
		rec, ok := w.inFlight[c.Token]
		if !ok {
			continue
		}
		latency := clock.Since(rec.SubmitNs)
		w.lastLatency = time.Duration(latency)
		w.applyCompletion(c, rec, latency)
		delete(w.inFlight, c.Token)
		w.pool.Release(rec.Slot)
		w.opsDone++
		w.maybeSnapshot()
	}
	if w.abortErr != nil {
		return w.abortErr
	}
	return nil
}

func (w *Worker) applyCompletion(c backend.Completion, rec *InFlightRecord, latencyNs int64) {
	if c.Err != nil {
		w.recordError(rec.Kind)
		return
	}
	switch rec.Kind {
	case backend.OpRead:
		w.localStats.ReadOps++
		w.localStats.ReadBytes += int64(c.N)
		w.localStats.ReadLatency.Record(latencyNs)
	case backend.OpWrite:
		w.localStats.WriteOps++
		w.localStats.WriteBytes += int64(c.N)
		w.localStats.WriteLatency.Record(latencyNs)
	case backend.OpMetadata:
		idx := int(c.MetaOp)
		if idx >= 0 && idx < len(w.localStats.MetadataCounts) {
			w.localStats.MetadataCounts[idx]++
			w.localStats.MetadataLatency[idx].Record(latencyNs)
		}
	}
}

// recordError tallies an I/O error and, per spec.md §4.2/§7, decides whether
// the worker must abort: an ErrorCap > 0 that's been exceeded always aborts,
// and any error aborts when ContinueOnError is false. abortErr is checked by
// fill (submission path) and poll (completion path) on the next iteration.
func (w *Worker) recordError(kind backend.OpKind) {
	switch kind {
	case backend.OpRead:
		w.localStats.ReadErrors++
	case backend.OpWrite:
		w.localStats.WriteErrors++
	default:
		w.localStats.MetadataErrors++
	}
	w.errorCount++
	if w.abortErr != nil {
		return
	}
	if w.cfg.ErrorCap > 0 && w.errorCount > w.cfg.ErrorCap {
		w.abortErr = fmt.Errorf("worker %d: error count %d exceeded error cap %d", w.cfg.WorkerID, w.errorCount, w.cfg.ErrorCap)
		return
	}
	if !w.cfg.ContinueOnError {
		w.abortErr = fmt.Errorf("worker %d: aborting after error (continue_on_error disabled): %w", w.cfg.WorkerID, errWorkerIOError)
	}
}

var errWorkerIOError = fmt.Errorf("i/o error")

func (w *Worker) maybeSnapshot() {
	w.opsSinceSnap++
	if w.opsSinceSnap >= w.cfg.SnapshotEveryOps {
		w.opsSinceSnap = 0
		w.snap.Publish(&w.localStats)
	}
}

func (w *Worker) think() {
	switch w.cfg.Think.Mode {
	case ThinkSleep:
		d := w.thinkDuration()
		if d > 0 {
			time.Sleep(d)
		}
	case ThinkSpin:
		deadline := time.Now().Add(w.thinkDuration())
		for time.Now().Before(deadline) {
			// busy-wait with an idle hint; Gosched yields only to other
			// goroutines, which is the closest stdlib equivalent to a
			// hardware pause instruction available without cgo.
			runtime.Gosched()
		}
	}
}

func (w *Worker) thinkDuration() time.Duration {
	base := w.cfg.Think.Base
	if w.cfg.Think.AdaptivePercent > 0 {
		base += time.Duration(float64(w.lastLatency) * w.cfg.Think.AdaptivePercent / 100.0)
	}
	return base
}
