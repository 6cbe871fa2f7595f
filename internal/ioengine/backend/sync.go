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

import "io"

// Sync is the synchronous positional backend: single in-flight operation,
// backed by ReadAt/WriteAt, short transfers retried to completion inside
// the Target itself. It is always usable and is the implementation Select
// silently substitutes for the asynchronous backends at queue depth 1.
type Sync struct {
	state   State
	pending []Completion
}

// NewSync constructs an uninitialized synchronous backend.
func NewSync() *Sync { return &Sync{state: Uninitialized} }

func (s *Sync) Init(cfg InitConfig) error {
	s.state = Initialized
	return nil
}

func (s *Sync) Capabilities() Capabilities {
	return Capabilities{SupportsAsync: false, SupportsDirectIO: true, MaxQueueDepth: 1, AllowsUnaligned: false}
}

// Submit performs the operation inline and queues its completion for the
// next PollCompletions call, matching spec.md §4.1's "for synchronous
// backends it performs the operation and leaves the completion in a ready
// queue."
func (s *Sync) Submit(op Operation) error {
	if s.state == Cleaned {
		return ErrClosed
	}
	if s.state == Uninitialized {
		return ErrNotInitialized
	}
	s.state = Submitting

	var n int
	var err error
	switch op.Kind {
	case OpRead:
		n, err = op.Target.ReadAt(op.Buffer, op.Offset)
		if err == io.EOF {
			err = nil
		}
	case OpWrite:
		n, err = op.Target.WriteAt(op.Buffer, op.Offset)
	case OpMetadata:
		n, err = 0, s.doMetadata(op)
	}
	s.pending = append(s.pending, Completion{Token: op.Token, N: n, Err: err, Kind: op.Kind, MetaOp: op.MetaOp})
	return nil
}

func (s *Sync) doMetadata(op Operation) error {
	switch op.MetaOp {
	case MetaFsync:
		return op.Target.Fsync()
	default:
		return nil
	}
}

// PollCompletions drains whatever completions Submit produced inline; it is
// never blocking since Submit is itself synchronous.
func (s *Sync) PollCompletions(max int) ([]Completion, error) {
	if s.state == Uninitialized {
		return nil, ErrNotInitialized
	}
	s.state = Polling
	if max <= 0 || max > len(s.pending) {
		max = len(s.pending)
	}
	out := s.pending[:max]
	s.pending = s.pending[max:]
	return out, nil
}

func (s *Sync) Cleanup() error {
	s.state = Cleaned
	return nil
}
