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

// Package histogram implements the fixed 112-bucket logarithmic latency
// histogram used by every worker, node, and coordinator snapshot. Bucket
// placement is a pure function of latency so independently recorded
// histograms can be merged bucket-by-bucket without reconciliation.
package histogram

import "math"

// NumBuckets is the fixed bucket count: 28 power-of-two levels, each split
// into 4 equal linear sub-bands.
const NumBuckets = 112

const subBandsPerLevel = 4

// Histogram is a fixed-size latency distribution in nanoseconds. The zero
// value is ready to use.
type Histogram struct {
	Buckets [NumBuckets]uint64
	Count   uint64
	Min     int64
	Max     int64
	Sum     int64
}

// New returns an empty histogram with Min/Max sentinels that Merge and
// Record correctly overwrite on first use.
func New() *Histogram {
	return &Histogram{Min: math.MaxInt64, Max: 0}
}

// BucketIndex returns the bucket a latency (in nanoseconds) falls into.
// Latencies below 1 microsecond map to bucket 0. For L >= 1us the bucket is
// 4*floor(log2(L)) + floor(4*(L-2^floor(log2(L)))/2^floor(log2(L))), clamped
// to the last bucket for latencies beyond the histogram's range.
func BucketIndex(latencyNanos int64) int {
	if latencyNanos < 0 {
		latencyNanos = 0
	}
	lUs := float64(latencyNanos) / 1000.0
	if lUs < 1 {
		return 0
	}
	level := int(math.Floor(math.Log2(lUs)))
	if level < 0 {
		level = 0
	}
	levelBase := math.Exp2(float64(level))
	sub := int(math.Floor(subBandsPerLevel * (lUs - levelBase) / levelBase))
	if sub < 0 {
		sub = 0
	}
	if sub >= subBandsPerLevel {
		sub = subBandsPerLevel - 1
	}
	idx := subBandsPerLevel*level + sub
	if idx >= NumBuckets {
		idx = NumBuckets - 1
	}
	return idx
}

// Record is the hot-path entry point: it must be inlinable into the
// completion handler. It updates the bucket, count, min, max, and sum.
func (h *Histogram) Record(latencyNanos int64) {
	idx := BucketIndex(latencyNanos)
	h.Buckets[idx]++
	h.Count++
	h.Sum += latencyNanos
	if latencyNanos < h.Min {
		h.Min = latencyNanos
	}
	if latencyNanos > h.Max {
		h.Max = latencyNanos
	}
}

// Merge adds other's buckets, count, and sum into h, and widens h's min/max
// to cover other's range. Used worker->node->global at test end and for
// cumulative-to-cumulative comparisons.
func (h *Histogram) Merge(other *Histogram) {
	for i := range h.Buckets {
		h.Buckets[i] += other.Buckets[i]
	}
	h.Count += other.Count
	h.Sum += other.Sum
	if other.Min < h.Min {
		h.Min = other.Min
	}
	if other.Max > h.Max {
		h.Max = other.Max
	}
}

// Delta returns a new histogram holding h minus prior, bucket by bucket,
// saturating at zero. Count and Sum are likewise saturating differences.
// Min/Max are carried from h verbatim: they describe the cumulative range,
// not the interval's.
func (h *Histogram) Delta(prior *Histogram) *Histogram {
	d := New()
	for i := range h.Buckets {
		d.Buckets[i] = saturatingSub(h.Buckets[i], prior.Buckets[i])
	}
	d.Count = saturatingSub(h.Count, prior.Count)
	d.Sum = h.Sum - prior.Sum
	if d.Sum < 0 {
		d.Sum = 0
	}
	d.Min = h.Min
	d.Max = h.Max
	return d
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// bucketBounds returns the [lower, upper) latency bounds of a bucket, in
// nanoseconds, per the level/sub-band formula BucketIndex inverts.
func bucketBounds(idx int) (lowerNs, upperNs float64) {
	if idx <= 0 {
		return 0, 1000
	}
	level := idx / subBandsPerLevel
	sub := idx % subBandsPerLevel
	levelBaseUs := math.Exp2(float64(level))
	bandWidthUs := levelBaseUs / subBandsPerLevel
	lowerUs := levelBaseUs + float64(sub)*bandWidthUs
	upperUs := lowerUs + bandWidthUs
	return lowerUs * 1000, upperUs * 1000
}

// Midpoint returns the representative latency (nanoseconds) for a bucket.
// Bucket 0 always reports ~500ns per its dedicated sub-microsecond role,
// regardless of how much of the formula's first sub-band also lands there.
func Midpoint(idx int) int64 {
	if idx <= 0 {
		return 500
	}
	lower, upper := bucketBounds(idx)
	return int64((lower + upper) / 2)
}

// LowerBound returns the monotonic lower-bound latency (nanoseconds) for a
// bucket, for callers that need a strictly non-decreasing percentile series
// rather than a display-friendly midpoint.
func LowerBound(idx int) int64 {
	lower, _ := bucketBounds(idx)
	return int64(lower)
}

// Percentile returns the midpoint latency (nanoseconds) of the bucket
// holding the ceil(q*count/100)-th sample, scanning buckets in order.
func (h *Histogram) Percentile(q float64) int64 {
	if h.Count == 0 {
		return 0
	}
	rank := uint64(math.Ceil(q * float64(h.Count) / 100.0))
	if rank < 1 {
		rank = 1
	}
	var acc uint64
	for i, c := range h.Buckets {
		acc += c
		if acc >= rank {
			return Midpoint(i)
		}
	}
	return Midpoint(NumBuckets - 1)
}

// PercentileLowerBound is Percentile but returning the bucket's lower bound,
// for monotonicity-sensitive callers (see Percentile).
func (h *Histogram) PercentileLowerBound(q float64) int64 {
	if h.Count == 0 {
		return 0
	}
	rank := uint64(math.Ceil(q * float64(h.Count) / 100.0))
	if rank < 1 {
		rank = 1
	}
	var acc uint64
	for i, c := range h.Buckets {
		acc += c
		if acc >= rank {
			return LowerBound(i)
		}
	}
	return LowerBound(NumBuckets - 1)
}
