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

// Package offset generates the block indices a worker's Fill phase submits
// against, from the four distributions spec.md §4.3 requires: Uniform,
// Zipf, Pareto, and Gaussian. Each worker owns its own Distribution
// instance, so generators carry their own PRNG state rather than sharing
// one behind a lock.
package offset

import (
	"math"
	"math/rand"
	"sort"
)

// Distribution returns a block index in [0, n) on every call to Next.
type Distribution interface {
	Next(n int64) int64
}

// weightedTable samples a rank in [0, size) from a precomputed cumulative
// weight table, then maps that rank linearly onto [0, n) with a
// within-bucket jitter so repeated draws don't pile onto the same handful
// of indices. It is the shared machinery behind Zipf and Pareto: both weight
// rank r by (r+1)^-exponent, differing only in the parameter range and
// Pareto's 0.05 floor on its exponent.
//
// The table is sized to n itself (bounded by minTableSize/maxTableSize)
// rather than a fixed rank count: one table rank per block is what makes
// the power-law weight land on an actual offset instead of being diluted
// across a multi-block bucket, which is what spec.md §4.3/§8's concentration
// percentages (e.g. 97% of draws in the first 20% of the address space for
// Zipf theta=1.2) are measured against. A worker calls Next with the same n
// (its TargetBlocks or assigned region size) on every draw, so the table is
// built lazily on first use and cached rather than rebuilt per call.
type weightedTable struct {
	weight func(rank int) float64
	rng    *rand.Rand

	size       int
	cumulative []float64 // cumulative, normalized to end at 1.0
}

const (
	minTableSize = 1 << 10
	maxTableSize = 1 << 20
)

func newWeightedTable(rng *rand.Rand, weight func(rank int) float64) *weightedTable {
	return &weightedTable{rng: rng, weight: weight}
}

func tableSizeFor(n int64) int {
	size := int(n)
	if size < minTableSize {
		size = minTableSize
	}
	if size > maxTableSize {
		size = maxTableSize
	}
	return size
}

func (w *weightedTable) buildFor(n int64) {
	size := tableSizeFor(n)
	if w.cumulative != nil && w.size == size {
		return
	}
	cum := make([]float64, size)
	var sum float64
	for i := 0; i < size; i++ {
		sum += w.weight(i)
		cum[i] = sum
	}
	for i := range cum {
		cum[i] /= sum
	}
	w.cumulative = cum
	w.size = size
}

func (w *weightedTable) next(n int64) int64 {
	if n <= 0 {
		return 0
	}
	w.buildFor(n)
	size := w.size
	u := w.rng.Float64()
	idx := sort.Search(size, func(i int) bool { return w.cumulative[i] >= u })
	if idx >= size {
		idx = size - 1
	}
	bucketWidth := float64(n) / float64(size)
	lo := float64(idx) * bucketWidth
	block := int64(lo + w.rng.Float64()*bucketWidth)
	return clamp(block, n)
}

func clamp(v, n int64) int64 {
	if n <= 0 {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// Uniform draws block indices with a fast non-cryptographic PRNG, each
// value equally likely.
type Uniform struct {
	rng *rand.Rand
}

// NewUniform builds a Uniform distribution seeded from seed (workers derive
// distinct seeds so parallel workers don't produce correlated sequences).
func NewUniform(seed int64) *Uniform {
	return &Uniform{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a uniformly distributed index in [0, n).
func (u *Uniform) Next(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return u.rng.Int63n(n)
}

// Zipf concentrates draws toward low indices. Theta in [0,3] controls the
// concentration: larger theta means a steeper power-law head. Precomputing
// the distribution table (spec.md §4.3 explicitly allows this) keeps Next
// O(log size) with no per-call allocation once the table is built.
type Zipf struct {
	table *weightedTable
	theta float64
}

// NewZipf builds a Zipf distribution with exponent theta, clamped to
// [0,3] per spec.md.
func NewZipf(seed int64, theta float64) *Zipf {
	if theta < 0 {
		theta = 0
	}
	if theta > 3 {
		theta = 3
	}
	rng := rand.New(rand.NewSource(seed))
	z := &Zipf{theta: theta}
	z.table = newWeightedTable(rng, func(rank int) float64 {
		return math.Pow(float64(rank+1), -theta)
	})
	return z
}

func (z *Zipf) Next(n int64) int64 { return z.table.next(n) }

// Pareto concentrates draws toward low indices with the power-law weight
// (rank+1)^-h. H in [0,10] is the shape parameter: larger h concentrates
// more strongly, smaller h produces a heavier, less concentrated tail. For
// h >= 0.05 the weights are the same as Zipf's with theta equal to h.
type Pareto struct {
	table *weightedTable
	h     float64
}

// NewPareto builds a Pareto distribution with shape h, clamped to [0,10].
func NewPareto(seed int64, h float64) *Pareto {
	if h < 0 {
		h = 0
	}
	if h > 10 {
		h = 10
	}
	alpha := h
	if alpha < 0.05 {
		alpha = 0.05 // avoid a degenerate (uniform) shape at h==0
	}
	rng := rand.New(rand.NewSource(seed))
	p := &Pareto{h: h}
	p.table = newWeightedTable(rng, func(rank int) float64 {
		return math.Pow(float64(rank+1), -alpha)
	})
	return p
}

func (p *Pareto) Next(n int64) int64 { return p.table.next(n) }

// Gaussian draws indices from a normal distribution, sigma and mu expressed
// as fractions of n, clamped to [0, n-1].
type Gaussian struct {
	rng   *rand.Rand
	sigma float64
	mu    float64
}

// NewGaussian builds a Gaussian distribution with center mu and spread
// sigma, both fractions of the eventual n passed to Next.
func NewGaussian(seed int64, mu, sigma float64) *Gaussian {
	return &Gaussian{rng: rand.New(rand.NewSource(seed)), sigma: sigma, mu: mu}
}

func (g *Gaussian) Next(n int64) int64 {
	if n <= 0 {
		return 0
	}
	sample := g.rng.NormFloat64()*g.sigma*float64(n) + g.mu*float64(n)
	return clamp(int64(sample), n)
}
