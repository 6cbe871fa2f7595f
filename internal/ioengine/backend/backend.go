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

// Package backend defines the uniform submit/poll contract spec.md §4.1
// requires of all four I/O backends (synchronous positional, ring-based
// async, kernel AIO, memory-mapped), and their shared State machine:
// Uninitialized -> Initialized -> Submitting <-> Polling -> Draining ->
// Cleaned.
package backend

import (
	"errors"
	"iopulse/internal/target"
)

// OpKind distinguishes read/write/metadata operations on the wire of the
// backend contract. Metadata sub-kind is carried separately.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpMetadata
)

// MetaOp enumerates the ten metadata operations a backend may be asked to
// perform; re-exported here rather than importing stats to keep this
// package free of a dependency on the stats aggregation layer.
type MetaOp int

const (
	MetaOpen MetaOp = iota
	MetaClose
	MetaStat
	MetaSetattr
	MetaMkdir
	MetaRmdir
	MetaUnlink
	MetaRename
	MetaReaddir
	MetaFsync
)

// Operation is a unit of I/O submitted to a backend.
type Operation struct {
	Kind       OpKind
	MetaOp     MetaOp
	Target     *target.Target
	Offset     int64
	Length     int64
	Buffer     []byte
	BufferSlot int32
	Token      uint64 // opaque correlation token, matched back on Completion
}

// Completion is what a backend reports once an Operation finishes.
type Completion struct {
	Token  uint64
	N      int
	Err    error
	Kind   OpKind
	MetaOp MetaOp
}

// Capabilities describes what a backend supports, consulted by the worker
// to decide, e.g., whether to silently fall back to the synchronous backend
// at queue depth 1.
type Capabilities struct {
	SupportsAsync    bool
	SupportsDirectIO bool
	MaxQueueDepth    int
	AllowsUnaligned  bool
}

// InitConfig configures a backend at construction.
type InitConfig struct {
	QueueDepth         int
	DirectIO           bool
	Alignment          int
	WorkerCapacityHint int
}

// State is a backend's lifecycle stage.
type State int

const (
	Uninitialized State = iota
	Initialized
	Submitting
	Polling
	Draining
	Cleaned
)

// ErrNotInitialized is returned by Submit/PollCompletions before Init.
var ErrNotInitialized = errors.New("backend: not initialized")

// ErrClosed is returned by Submit after Cleanup.
var ErrClosed = errors.New("backend: submit after cleanup")

// Backend is the uniform contract every I/O backend implements.
type Backend interface {
	// Init prepares the backend for use.
	Init(cfg InitConfig) error
	// Submit enqueues one operation. Must not block on completion for
	// asynchronous backends; synchronous backends perform the operation
	// inline and leave the completion ready for the next PollCompletions.
	Submit(op Operation) error
	// PollCompletions returns zero or more completions. Non-blocking if
	// completions are already ready; otherwise blocks up to an
	// implementation-defined short timeout.
	PollCompletions(max int) ([]Completion, error)
	// Cleanup releases backend resources. Submit must refuse after this.
	Cleanup() error
	// Capabilities reports what this backend supports.
	Capabilities() Capabilities
}
