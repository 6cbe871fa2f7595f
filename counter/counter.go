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

// Package counter provides the cache-line-isolated atomic counters used for
// per-worker ops/bytes/error tracking, plus a striped variant for the few
// counters genuinely hammered by many goroutines at once (dataset-prep
// progress, heatmap buckets).
package counter

import "sync/atomic"

// padSize over-pads to 128 bytes (rather than the common 64) to stay correct
// on CPUs with adjacent-line prefetch, same margin the VSA counters in this
// codebase have always used.
const padSize = 128 - 8

// Padded is a single 64-bit atomic counter occupying its own cache line. A
// WorkerStats struct is built entirely out of these so that the
// snapshot-publishing goroutine reading one counter never invalidates the
// cache line of a counter the worker goroutine is actively incrementing.
type Padded struct {
	v atomic.Int64
	_ [padSize]byte
}

// Add adds delta atomically. Go's atomic package has no relaxed mode, so
// this is a sequentially consistent add; it is still far cheaper than a
// mutex.
func (c *Padded) Add(delta int64) { c.v.Add(delta) }

// Load returns the current value.
func (c *Padded) Load() int64 { return c.v.Load() }

// Store sets the value directly, used only at worker construction.
func (c *Padded) Store(v int64) { c.v.Store(v) }
