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

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"

	"iopulse/internal/target"
)

// Mmap is the memory-mapped backend: effectively single-in-flight, lazily
// mapping each target the first time it's touched and reusing the mapping
// for the rest of the test. Mappings are always PROT_READ|PROT_WRITE (a
// read-only mapping that later sees a write would fault), per spec.md §4.1.
type Mmap struct {
	state    State
	mappings map[*target.Target][]byte
	pending  []Completion
}

// NewMmap constructs an uninitialized memory-mapped backend.
func NewMmap() *Mmap {
	return &Mmap{state: Uninitialized, mappings: make(map[*target.Target][]byte)}
}

func (m *Mmap) Capabilities() Capabilities {
	return Capabilities{SupportsAsync: false, SupportsDirectIO: false, MaxQueueDepth: 1, AllowsUnaligned: true}
}

func (m *Mmap) Init(cfg InitConfig) error {
	m.state = Initialized
	return nil
}

func (m *Mmap) mappingFor(t *target.Target) ([]byte, error) {
	if region, ok := m.mappings[t]; ok {
		return region, nil
	}
	size, err := t.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("mmap backend: refusing to map empty target %s (fill or preallocate first)", t.Path)
	}
	region, err := unix.Mmap(int(t.File.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap backend: mmap %s: %w", t.Path, err)
	}
	m.mappings[t] = region
	return region, nil
}

// Submit performs the memcpy against the target's mapping inline (this
// backend is effectively single in-flight) and leaves a ready completion.
func (m *Mmap) Submit(op Operation) error {
	if m.state == Cleaned {
		return ErrClosed
	}
	if m.state == Uninitialized {
		return ErrNotInitialized
	}
	m.state = Submitting

	region, err := m.mappingFor(op.Target)
	if err != nil {
		m.pending = append(m.pending, Completion{Token: op.Token, Err: err, Kind: op.Kind})
		return nil
	}
	end := op.Offset + op.Length
	if end > int64(len(region)) {
		m.pending = append(m.pending, Completion{Token: op.Token, Err: fmt.Errorf("mmap backend: op range [%d,%d) exceeds mapping size %d", op.Offset, end, len(region)), Kind: op.Kind})
		return nil
	}
	var n int
	if op.Kind == OpWrite {
		n = copy(region[op.Offset:end], op.Buffer)
	} else {
		n = copy(op.Buffer, region[op.Offset:end])
	}
	m.pending = append(m.pending, Completion{Token: op.Token, N: n, Kind: op.Kind, MetaOp: op.MetaOp})
	return nil
}

func (m *Mmap) PollCompletions(max int) ([]Completion, error) {
	if m.state == Uninitialized {
		return nil, ErrNotInitialized
	}
	m.state = Polling
	if max <= 0 || max > len(m.pending) {
		max = len(m.pending)
	}
	out := m.pending[:max]
	m.pending = m.pending[max:]
	return out, nil
}

func (m *Mmap) Cleanup() error {
	m.state = Cleaned
	var firstErr error
	for t, region := range m.mappings {
		if err := unix.Munmap(region); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.mappings, t)
	}
	return firstErr
}
