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

// Package node implements the per-node layer sitting between a Node's
// Workers and its Coordinator connection: a registry of worker snapshot
// slots, periodic aggregation, and heartbeat emission, per spec.md §4.7.
package node

import (
	"sort"
	"sync"

	"iopulse/internal/worker"
	"iopulse/stats"
)

// Registry holds the shared snapshot slot for every worker this Node
// spawned, keyed by worker ID. It is safe for concurrent Register and
// Aggregate calls.
type Registry struct {
	slots sync.Map // map[int]*worker.Snapshot
}

// Register publishes slot as the snapshot source for workerID. Called once
// per worker at startup, before the worker's own goroutine begins running.
func (r *Registry) Register(workerID int, slot *worker.Snapshot) {
	r.slots.Store(workerID, slot)
}

// Unregister removes a worker's slot, e.g. once it has exited and its final
// snapshot has been folded into a terminal aggregate.
func (r *Registry) Unregister(workerID int) {
	r.slots.Delete(workerID)
}

// Aggregate sums every registered worker's current cumulative snapshot into
// a single cumulative total, and returns the per-worker snapshots sorted by
// worker ID for deterministic wire output.
func (r *Registry) Aggregate() (total stats.WorkerSnapshot, perWorker []stats.WorkerSnapshot) {
	type idSnap struct {
		id   int
		snap stats.WorkerSnapshot
	}
	var all []idSnap
	r.slots.Range(func(key, value any) bool {
		id := key.(int)
		slot := value.(*worker.Snapshot)
		s := slot.Read()
		all = append(all, idSnap{id: id, snap: s})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })

	perWorker = make([]stats.WorkerSnapshot, len(all))
	for i, e := range all {
		perWorker[i] = e.snap
		total.Add(&e.snap)
	}
	return total, perWorker
}
