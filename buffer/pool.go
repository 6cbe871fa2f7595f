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

// Package buffer provides the fixed-size, alignment-correct buffer pool each
// worker owns exclusively for the lifetime of a test. Buffers are borrowed
// to exactly one in-flight operation at a time and returned on completion;
// there is no cross-worker sharing and no garbage collection of buffer
// lifetime, so pop/push against the free-list are simple and unsynchronized
// by design (a single worker goroutine calls Acquire/Release).
package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pool is an aligned buffer arena sized to (queueDepth + slack) slots of
// blockSize bytes each, backed by a single anonymous mmap region so every
// slot starts on an alignment boundary suitable for O_DIRECT I/O.
type Pool struct {
	region    []byte
	blockSize int
	slotCount int
	free      []int32 // free-list stack of slot indices; LIFO for cache locality
}

// NewPool allocates slotCount buffers of blockSize bytes each, aligned to
// alignment bytes (512 or 4096, per spec.md's Buffer data model). Alignment
// is achieved by mmap'ing a region and computing each slot's start modulo
// the allocation's natural page alignment; mmap regions are always page
// (4096-byte) aligned on Linux, covering both required alignments.
func NewPool(slotCount, blockSize, alignment int) (*Pool, error) {
	if slotCount <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("buffer pool: invalid dimensions slots=%d blockSize=%d", slotCount, blockSize)
	}
	if blockSize%alignment != 0 {
		return nil, fmt.Errorf("buffer pool: blockSize %d not a multiple of alignment %d", blockSize, alignment)
	}
	total := slotCount * blockSize
	region, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("buffer pool: mmap %d bytes: %w", total, err)
	}
	p := &Pool{region: region, blockSize: blockSize, slotCount: slotCount, free: make([]int32, slotCount)}
	for i := 0; i < slotCount; i++ {
		p.free[i] = int32(i)
	}
	return p, nil
}

// Acquire pops a free slot and returns its index and backing byte slice. It
// returns ok=false when the pool is exhausted, which the caller (the Fill
// phase of the worker loop) uses to stop submitting until a completion
// returns a buffer.
func (p *Pool) Acquire() (slot int32, buf []byte, ok bool) {
	n := len(p.free)
	if n == 0 {
		return 0, nil, false
	}
	slot = p.free[n-1]
	p.free = p.free[:n-1]
	start := int(slot) * p.blockSize
	return slot, p.region[start : start+p.blockSize], true
}

// Release returns a slot to the free-list. Must not be called while a
// correlation token referring to the slot is still outstanding.
func (p *Pool) Release(slot int32) {
	p.free = append(p.free, slot)
}

// Slot returns the backing byte slice for a slot index without acquiring
// it, used by backends that address buffers by slot across the submit/poll
// boundary (e.g. the AIO backend matching completions to slots).
func (p *Pool) Slot(slot int32) []byte {
	start := int(slot) * p.blockSize
	return p.region[start : start+p.blockSize]
}

// Available reports how many buffers are currently free.
func (p *Pool) Available() int { return len(p.free) }

// Close unmaps the pool's backing memory. Must only be called after every
// in-flight operation referencing its buffers has completed.
func (p *Pool) Close() error {
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	return err
}
