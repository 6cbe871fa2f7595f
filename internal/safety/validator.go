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

// Package safety implements the write-conflict validator: a configuration-
// time, advisory-only check (spec.md §4.2/§9), never consulted from a
// worker's hot loop.
package safety

import (
	"errors"
	"fmt"

	"iopulse/internal/protocol"
)

// ErrWriteConflict is returned by Check when a configuration would let
// multiple unsynchronized workers corrupt the same file concurrently.
var ErrWriteConflict = errors.New("safety: unsynchronized concurrent writes to shared file")

// Remedies are the three explicit fixes spec.md §9 requires a refusal to
// present; surfaced on ErrWriteConflict via errors.As-style inspection of
// *ConflictError.
var Remedies = []string{
	"enable file locking",
	"switch to partitioned file distribution",
	"pass --allow-write-conflicts to acknowledge benchmark-mode semantics",
}

// ConflictError carries the three remedies alongside the sentinel error so
// a caller can render them without re-deriving the condition.
type ConflictError struct {
	WorkerCount int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %d workers would write the same shared-mode file without locking or partitioning; remedies: %v",
		ErrWriteConflict, e.WorkerCount, Remedies)
}

func (e *ConflictError) Unwrap() error { return ErrWriteConflict }

// Check implements spec.md §4.2's configuration-time write-conflict safety
// check: shared distribution + writes>0% + random access + no locking +
// workers>1 is refused unless workload.AllowWriteConflicts is set.
func Check(workload protocol.WorkloadSpec, workerCount int) error {
	if workload.AllowWriteConflicts {
		return nil
	}
	if workload.FileDistribution != "shared" {
		return nil
	}
	if workload.ReadPercent >= 100 {
		return nil // no writes at all
	}
	if workload.AccessPattern == "sequential" {
		return nil
	}
	if workload.FileLocking {
		return nil
	}
	if workerCount <= 1 {
		return nil
	}
	return &ConflictError{WorkerCount: workerCount}
}
