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

// Package partition computes the Coordinator's global work partitioning
// (spec.md §4.5): dividing a single file's byte space or a file list's
// index space into one contiguous shard per worker, and deciding which node
// owns which shard with rendezvous hashing so that a node joining or
// leaving between runs reassigns the minimum possible number of shards.
package partition

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// Mode selects how work is distributed across the file space.
type Mode int

const (
	// ModeShared draws from the full space on every worker; no assignment
	// is transmitted.
	ModeShared Mode = iota
	// ModePartitioned splits a single file into contiguous byte regions.
	ModePartitioned
	// ModeFileList splits a list of files into contiguous index ranges.
	ModeFileList
	// ModePerWorker gives each worker a unique file derived from its
	// global index.
	ModePerWorker
)

// ByteRegion is a half-open byte range [Lo, Hi) of a single file.
type ByteRegion struct {
	Lo, Hi int64
}

// IndexRange is a half-open index range [Lo, Hi) into a file list.
type IndexRange struct {
	Lo, Hi int
}

// ByteRegions splits fileSize into totalWorkers contiguous regions of
// ⌊fileSize/totalWorkers⌋ bytes, with the last region absorbing the
// remainder, per spec.md §4.5.
func ByteRegions(fileSize int64, totalWorkers int) []ByteRegion {
	if totalWorkers <= 0 {
		return nil
	}
	base := fileSize / int64(totalWorkers)
	regions := make([]ByteRegion, totalWorkers)
	var lo int64
	for i := 0; i < totalWorkers; i++ {
		hi := lo + base
		if i == totalWorkers-1 {
			hi = fileSize
		}
		regions[i] = ByteRegion{Lo: lo, Hi: hi}
		lo = hi
	}
	return regions
}

// IndexRanges splits fileCount into totalWorkers contiguous index ranges of
// ⌊fileCount/totalWorkers⌋ entries, with the last range absorbing the
// remainder.
func IndexRanges(fileCount, totalWorkers int) []IndexRange {
	if totalWorkers <= 0 {
		return nil
	}
	base := fileCount / totalWorkers
	ranges := make([]IndexRange, totalWorkers)
	lo := 0
	for i := 0; i < totalWorkers; i++ {
		hi := lo + base
		if i == totalWorkers-1 {
			hi = fileCount
		}
		ranges[i] = IndexRange{Lo: lo, Hi: hi}
		lo = hi
	}
	return ranges
}

// PerWorkerFileName derives the unique file a worker operates on under
// ModePerWorker, from its global index across all nodes.
func PerWorkerFileName(globalIndex int) string {
	return "worker_" + strconv.Itoa(globalIndex) + ".dat"
}

// Assignment binds one global worker index to the node that owns it and
// the worker's local ID on that node.
type Assignment struct {
	GlobalIndex int
	NodeID      string
	LocalID     int
}

// Assign lays out totalWorkers shards (one per global worker index),
// picking each shard's owning node via rendezvous hashing over nodeIDs so
// that adding or removing a node remaps the minimum number of shards
// (unlike a modulo or contiguous-block assignment, which reshuffles
// everything on any membership change). Workers are then numbered
// contiguously per node in ascending global-index order.
func Assign(nodeIDs []string, totalWorkers int) ([]Assignment, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("partition: no nodes to assign work to")
	}
	if totalWorkers <= 0 {
		return nil, fmt.Errorf("partition: total workers must be positive, got %d", totalWorkers)
	}

	r := rendezvous.New(nodeIDs, xxhash.Sum64String)
	localCounters := make(map[string]int, len(nodeIDs))
	out := make([]Assignment, totalWorkers)
	for i := 0; i < totalWorkers; i++ {
		shardKey := strconv.Itoa(i)
		nodeID := r.Lookup(shardKey)
		localID := localCounters[nodeID]
		localCounters[nodeID] = localID + 1
		out[i] = Assignment{GlobalIndex: i, NodeID: nodeID, LocalID: localID}
	}
	return out, nil
}

// CountPerNode tallies how many global worker indices Assign routed to
// each node. Every node in nodeIDs has an entry, zero if it got no shard.
func CountPerNode(assignments []Assignment, nodeIDs []string) map[string]int {
	counts := make(map[string]int, len(nodeIDs))
	for _, id := range nodeIDs {
		counts[id] = 0
	}
	for _, a := range assignments {
		counts[a.NodeID]++
	}
	return counts
}
