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

package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"iopulse/internal/ioengine/backend"
	"iopulse/internal/offset"
	"iopulse/internal/target"
)

func openTestTarget(t *testing.T, size int) *target.Target {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	tg, err := target.Open(path, target.OpenMode{Write: true})
	if err != nil {
		t.Fatalf("target.Open: %v", err)
	}
	t.Cleanup(func() { tg.Close() })
	return tg
}

func TestRunStopsAfterDuration(t *testing.T) {
	blockSize := 4096
	fileBlocks := int64(64)
	tgt := openTestTarget(t, int(fileBlocks)*blockSize)

	cfg := Config{
		WorkerID:     1,
		QueueDepth:   4,
		BlockSize:    blockSize,
		Alignment:    512,
		ReadPercent:  50,
		Distribution: offset.NewUniform(1),
		Targets:      []*target.Target{tgt},
		TargetBlocks: fileBlocks,
		Duration:     20 * time.Millisecond,
		CheckStopEvery: 4,
	}
	w, err := New(cfg, backend.NewSync())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := w.Snapshot().Read()
	if snap.ReadOps+snap.WriteOps == 0 {
		t.Fatalf("expected some ops to have completed, got zero")
	}
}

func TestRunHonorsExternalStop(t *testing.T) {
	blockSize := 4096
	fileBlocks := int64(16)
	tgt := openTestTarget(t, int(fileBlocks)*blockSize)

	cfg := Config{
		WorkerID:       2,
		QueueDepth:     2,
		BlockSize:      blockSize,
		Alignment:      512,
		ReadPercent:    100,
		Distribution:   offset.NewUniform(2),
		Targets:        []*target.Target{tgt},
		TargetBlocks:   fileBlocks,
		CheckStopEvery: 1,
	}
	w, err := New(cfg, backend.NewSync())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	time.Sleep(5 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop()")
	}
}

func TestRunUntilRegionComplete(t *testing.T) {
	blockSize := 4096
	regionBlocks := int64(8)
	tgt := openTestTarget(t, int(regionBlocks)*blockSize)

	cfg := Config{
		WorkerID:         3,
		QueueDepth:       1,
		BlockSize:        blockSize,
		Alignment:        512,
		ReadPercent:      0,
		Distribution:     offset.NewUniform(3),
		Targets:          []*target.Target{tgt},
		Region:           Region{Lo: 0, Hi: regionBlocks},
		RunUntilComplete: true,
		CheckStopEvery:   1,
	}
	w, err := New(cfg, backend.NewSync())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not self-terminate on region completion")
	}
	snap := w.Snapshot().Read()
	if snap.WriteOps < regionBlocks {
		t.Fatalf("WriteOps = %d, want at least %d", snap.WriteOps, regionBlocks)
	}
}
