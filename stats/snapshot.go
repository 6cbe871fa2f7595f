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

// Package stats holds the shared data model for worker, node, and delta
// snapshots: the cumulative counters and histograms every layer of the
// system aggregates, and the metadata-operation closed set.
package stats

import "iopulse/histogram"

// MetadataOp enumerates the closed set of metadata operations, each with its
// own counter and latency histogram.
type MetadataOp int

const (
	MetaOpen MetadataOp = iota
	MetaClose
	MetaStat
	MetaSetattr
	MetaMkdir
	MetaRmdir
	MetaUnlink
	MetaRename
	MetaReaddir
	MetaFsync
	numMetadataOps
)

// NumMetadataOps is the fixed size of the metadata operation set.
const NumMetadataOps = int(numMetadataOps)

func (m MetadataOp) String() string {
	switch m {
	case MetaOpen:
		return "open"
	case MetaClose:
		return "close"
	case MetaStat:
		return "stat"
	case MetaSetattr:
		return "setattr"
	case MetaMkdir:
		return "mkdir"
	case MetaRmdir:
		return "rmdir"
	case MetaUnlink:
		return "unlink"
	case MetaRename:
		return "rename"
	case MetaReaddir:
		return "readdir"
	case MetaFsync:
		return "fsync"
	default:
		return "unknown"
	}
}

// WorkerSnapshot is a cumulative, value-typed (no atomics) copy of a
// worker's counters and histograms, safe to publish into a shared slot and
// to sum across workers. It is the concrete shape of spec.md's "Worker
// snapshot".
type WorkerSnapshot struct {
	ReadOps        int64
	WriteOps       int64
	ReadBytes      int64
	WriteBytes     int64
	ReadErrors     int64
	WriteErrors    int64
	MetadataErrors int64
	VerifyFailures int64

	ReadLatency     histogram.Histogram
	WriteLatency    histogram.Histogram
	LockLatency     histogram.Histogram
	MetadataLatency [NumMetadataOps]histogram.Histogram
	MetadataCounts  [NumMetadataOps]int64
}

// Add accumulates other into s, element-wise, in place. Used to fold a
// worker snapshot into a running node total.
func (s *WorkerSnapshot) Add(other *WorkerSnapshot) {
	s.ReadOps += other.ReadOps
	s.WriteOps += other.WriteOps
	s.ReadBytes += other.ReadBytes
	s.WriteBytes += other.WriteBytes
	s.ReadErrors += other.ReadErrors
	s.WriteErrors += other.WriteErrors
	s.MetadataErrors += other.MetadataErrors
	s.VerifyFailures += other.VerifyFailures
	s.ReadLatency.Merge(&other.ReadLatency)
	s.WriteLatency.Merge(&other.WriteLatency)
	s.LockLatency.Merge(&other.LockLatency)
	for i := range s.MetadataLatency {
		s.MetadataLatency[i].Merge(&other.MetadataLatency[i])
		s.MetadataCounts[i] += other.MetadataCounts[i]
	}
}

func saturatingSubInt64(a, b int64) int64 {
	d := a - b
	if d < 0 {
		return 0
	}
	return d
}

// Delta returns s minus prior, counters saturating at zero and histograms
// subtracted bucket-by-bucket (also saturating). Represents exactly one
// heartbeat interval's activity.
func (s *WorkerSnapshot) Delta(prior *WorkerSnapshot) *WorkerSnapshot {
	d := &WorkerSnapshot{
		ReadOps:        saturatingSubInt64(s.ReadOps, prior.ReadOps),
		WriteOps:       saturatingSubInt64(s.WriteOps, prior.WriteOps),
		ReadBytes:      saturatingSubInt64(s.ReadBytes, prior.ReadBytes),
		WriteBytes:     saturatingSubInt64(s.WriteBytes, prior.WriteBytes),
		ReadErrors:     saturatingSubInt64(s.ReadErrors, prior.ReadErrors),
		WriteErrors:    saturatingSubInt64(s.WriteErrors, prior.WriteErrors),
		MetadataErrors: saturatingSubInt64(s.MetadataErrors, prior.MetadataErrors),
		VerifyFailures: saturatingSubInt64(s.VerifyFailures, prior.VerifyFailures),
	}
	d.ReadLatency = *s.ReadLatency.Delta(&prior.ReadLatency)
	d.WriteLatency = *s.WriteLatency.Delta(&prior.WriteLatency)
	d.LockLatency = *s.LockLatency.Delta(&prior.LockLatency)
	for i := range d.MetadataLatency {
		d.MetadataLatency[i] = *s.MetadataLatency[i].Delta(&prior.MetadataLatency[i])
		d.MetadataCounts[i] = saturatingSubInt64(s.MetadataCounts[i], prior.MetadataCounts[i])
	}
	return d
}

// NodeSnapshot is the element-wise sum of all worker snapshots on a node,
// plus process resource usage. Always cumulative, per spec.md's "Node
// snapshot always carries cumulative totals".
type NodeSnapshot struct {
	WorkerSnapshot

	// CPUPercentPerThreadNormalized divides delta-cpu-time by (delta-wall *
	// n_threads); CPUPercentRaw is the unnormalized sum that may exceed 100%.
	// Both are exposed because spec.md requires the consumer to know which
	// convention is in effect; the field name is the label.
	CPUPercentPerThreadNormalized float64
	CPUPercentRaw                 float64
	ResidentMemoryBytes           int64
	ElapsedNanos                  int64
}

// IOPS computes ops_delta * 1000 / elapsed_ms for a delta snapshot, the
// authoritative rate formula from spec.md §3/§4.5.
func (s *WorkerSnapshot) IOPS(elapsedMs int64) float64 {
	if elapsedMs <= 0 {
		return 0
	}
	opsDelta := s.ReadOps + s.WriteOps
	return float64(opsDelta) * 1000.0 / float64(elapsedMs)
}
