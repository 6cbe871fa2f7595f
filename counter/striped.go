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

package counter

import (
	"runtime"
	_ "unsafe"
)

//go:linkname runtime_procPin runtime.procPin
func runtime_procPin() int

//go:linkname runtime_procUnpin runtime.procUnpin
func runtime_procUnpin()

// Striped is a sum-of-stripes counter for the handful of counters that are
// genuinely incremented by many goroutines concurrently: the dataset
// preparation pool's "files filled" progress counter, and offset-distribution
// heatmap validation buckets (spec: "heatmap buckets ... are lock-free atomic
// additions"). Per-worker op/byte/error counters do not need this — only the
// owning worker goroutine ever writes them — so they use the simpler Padded.
type Striped struct {
	stripes []Padded
	mask    int
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// NewStriped builds a striped counter with a stripe count derived from
// GOMAXPROCS, clamped to [8,64] and rounded to a power of two, mirroring the
// default sizing this codebase's VSA counters have always used.
func NewStriped() *Striped {
	n := runtime.GOMAXPROCS(0)
	if n < 8 {
		n = 8
	}
	if n > 64 {
		n = 64
	}
	n = nextPow2(n)
	return &Striped{stripes: make([]Padded, n), mask: n - 1}
}

// Add increments the stripe selected by the calling goroutine's current P.
func (s *Striped) Add(delta int64) {
	p := runtime_procPin()
	runtime_procUnpin()
	s.stripes[p&s.mask].Add(delta)
}

// Sum returns the current total across all stripes. Not linearizable with
// concurrent Add calls, which is acceptable for progress counters and
// heatmap buckets read only for periodic reporting.
func (s *Striped) Sum() int64 {
	var total int64
	for i := range s.stripes {
		total += s.stripes[i].Load()
	}
	return total
}
