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

package safety

import (
	"errors"
	"testing"

	"iopulse/internal/protocol"
)

func unsafeWorkload() protocol.WorkloadSpec {
	return protocol.WorkloadSpec{
		FileDistribution: "shared",
		ReadPercent:      50,
		AccessPattern:    "random",
		FileLocking:      false,
	}
}

func TestCheckRefusesSharedRandomWriteWithoutLocking(t *testing.T) {
	err := Check(unsafeWorkload(), 4)
	if err == nil {
		t.Fatal("expected refusal for shared+random+writes+no-locking+workers>1")
	}
	if !errors.Is(err, ErrWriteConflict) {
		t.Fatalf("expected errors.Is to match ErrWriteConflict, got %v", err)
	}
}

func TestCheckAllowsWhenAcknowledged(t *testing.T) {
	w := unsafeWorkload()
	w.AllowWriteConflicts = true
	if err := Check(w, 4); err != nil {
		t.Fatalf("expected no error when explicitly acknowledged, got %v", err)
	}
}

func TestCheckAllowsPartitionedDistribution(t *testing.T) {
	w := unsafeWorkload()
	w.FileDistribution = "partitioned"
	if err := Check(w, 4); err != nil {
		t.Fatalf("expected no error for partitioned distribution, got %v", err)
	}
}

func TestCheckAllowsWithFileLocking(t *testing.T) {
	w := unsafeWorkload()
	w.FileLocking = true
	if err := Check(w, 4); err != nil {
		t.Fatalf("expected no error when file locking is enabled, got %v", err)
	}
}

func TestCheckAllowsSequentialAccess(t *testing.T) {
	w := unsafeWorkload()
	w.AccessPattern = "sequential"
	if err := Check(w, 4); err != nil {
		t.Fatalf("expected no error for sequential access, got %v", err)
	}
}

func TestCheckAllowsReadOnlyWorkload(t *testing.T) {
	w := unsafeWorkload()
	w.ReadPercent = 100
	if err := Check(w, 4); err != nil {
		t.Fatalf("expected no error for a read-only workload, got %v", err)
	}
}

func TestCheckAllowsSingleWorker(t *testing.T) {
	if err := Check(unsafeWorkload(), 1); err != nil {
		t.Fatalf("expected no error with a single worker, got %v", err)
	}
}

func TestConflictErrorListsAllThreeRemedies(t *testing.T) {
	err := Check(unsafeWorkload(), 4)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if len(Remedies) != 3 {
		t.Fatalf("expected exactly three remedies, got %d: %v", len(Remedies), Remedies)
	}
}
