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

package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"iopulse/internal/layout"
	"iopulse/internal/target"
)

func makeOpts(root string, n int) Options {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("file_%d", i)
	}
	return Options{
		Root:          root,
		Paths:         paths,
		FileSize:      8192,
		Pattern:       target.PatternZero,
		BlockSize:     4096,
		ConfigHash:    "hash-1",
		ProgressEvery: 1000,
	}
}

func TestPrepareCreatesAndFillsMissingFiles(t *testing.T) {
	root := t.TempDir()
	opts := makeOpts(root, 5)

	result, err := Prepare(opts, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if result.FilesFilled != 5 {
		t.Fatalf("FilesFilled = %d, want 5", result.FilesFilled)
	}
	for _, p := range opts.Paths {
		info, err := os.Stat(filepath.Join(root, p))
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if info.Size() != opts.FileSize {
			t.Fatalf("%s size = %d, want %d", p, info.Size(), opts.FileSize)
		}
	}
	if _, err := os.Stat(filepath.Join(root, layout.MarkerFileName)); err != nil {
		t.Fatalf("expected marker to be written: %v", err)
	}
}

func TestPrepareSecondRunWithMatchingMarkerSkipsValidation(t *testing.T) {
	root := t.TempDir()
	opts := makeOpts(root, 3)

	if _, err := Prepare(opts, nil); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}

	var progressCalls int
	result, err := Prepare(opts, func(done, total int) { progressCalls++ })
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if !result.UsedMarker || !result.SkippedValidation {
		t.Fatalf("expected marker reuse, got %+v", result)
	}
	if progressCalls != 0 {
		t.Fatalf("expected no progress callbacks on marker-skip path, got %d", progressCalls)
	}
}

func TestPrepareWithDifferentConfigHashReValidates(t *testing.T) {
	root := t.TempDir()
	opts := makeOpts(root, 3)
	if _, err := Prepare(opts, nil); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}

	opts2 := opts
	opts2.ConfigHash = "hash-2"
	result, err := Prepare(opts2, nil)
	if err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if result.UsedMarker {
		t.Fatal("expected marker mismatch to force revalidation")
	}
}

func TestPrepareForceRecreateWipesExistingData(t *testing.T) {
	root := t.TempDir()
	opts := makeOpts(root, 2)
	if _, err := Prepare(opts, nil); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}

	marker := filepath.Join(root, layout.MarkerFileName)
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected marker from first run: %v", err)
	}

	opts.ForceRecreate = true
	result, err := Prepare(opts, nil)
	if err != nil {
		t.Fatalf("force-recreate Prepare: %v", err)
	}
	if result.FilesFilled != 2 {
		t.Fatalf("FilesFilled = %d, want 2 after force-recreate", result.FilesFilled)
	}
}

func TestPrepareIgnoreLayoutMarkerSkipsMarkerCheck(t *testing.T) {
	root := t.TempDir()
	opts := makeOpts(root, 2)
	if _, err := Prepare(opts, nil); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}

	opts.IgnoreLayoutMarker = true
	result, err := Prepare(opts, nil)
	if err != nil {
		t.Fatalf("ignore-marker Prepare: %v", err)
	}
	if result.UsedMarker {
		t.Fatal("expected marker consultation to be skipped entirely")
	}
	if result.FilesFilled != 0 {
		t.Fatalf("FilesFilled = %d, want 0 (files already full, not sparse)", result.FilesFilled)
	}
}
