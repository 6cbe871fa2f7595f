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

// Package dataset implements the dataset-preparation layer: parallel
// sparse-file detection and refill, gated by the dataset marker's O(1)
// skip, sized to a worker pool over available cores.
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"iopulse/counter"
	"iopulse/internal/layout"
	"iopulse/internal/target"
)

// Options configures one Prepare call.
type Options struct {
	Root               string
	Paths              []string // relative to Root
	FileSize           int64
	Pattern            target.Pattern
	BlockSize          int
	ForceRecreate      bool
	IgnoreLayoutMarker bool
	ConfigHash         string
	ManifestPath       string
	ManifestHash       string
	LayoutParams       layout.Params
	Concurrency        int // default runtime.NumCPU()
	ProgressEvery      int // default 1000, per spec.md §4.6
}

// Result reports what Prepare actually did, keeping file-level and
// region-level counts distinct rather than collapsing them into one
// "filled" number (spec.md §9's own warning about that ambiguity).
type Result struct {
	UsedMarker        bool
	SkippedValidation bool
	FilesFilled       int64
	RegionsRefilled   int64
	FilesChecked      int64
}

// ProgressFunc is invoked every ProgressEvery files processed.
type ProgressFunc func(done, total int)

// Prepare runs the marker protocol followed by parallel sparse detection
// and refill, per spec.md §4.6.
func Prepare(opts Options, onProgress ProgressFunc) (*Result, error) {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 1000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	markerPath := filepath.Join(opts.Root, layout.MarkerFileName)

	if opts.ForceRecreate {
		if err := layout.DeleteMarker(markerPath); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(opts.Root); err != nil {
			return nil, fmt.Errorf("dataset: force-recreate: remove %s: %w", opts.Root, err)
		}
		if err := os.MkdirAll(opts.Root, 0o755); err != nil {
			return nil, fmt.Errorf("dataset: force-recreate: recreate %s: %w", opts.Root, err)
		}
	}

	if !opts.IgnoreLayoutMarker && !opts.ForceRecreate {
		marker, err := layout.ReadMarker(markerPath)
		if err == nil && marker.Matches(opts.ConfigHash) {
			return &Result{UsedMarker: true, SkippedValidation: true}, nil
		}
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset: read marker: %w", err)
		}
	}

	result, err := validateAndFill(opts, onProgress)
	if err != nil {
		return result, err
	}

	m := layout.Marker{
		ConfigHash:   opts.ConfigHash,
		Created:      time.Now(),
		FileCount:    len(opts.Paths),
		FileSize:     opts.FileSize,
		Depth:        opts.LayoutParams.Depth,
		Width:        opts.LayoutParams.Width,
		ManifestPath: opts.ManifestPath,
		ManifestHash: opts.ManifestHash,
		Filled:       true,
	}
	if err := layout.WriteMarker(markerPath, m); err != nil {
		return result, err
	}
	return result, nil
}

// validateAndFill iterates opts.Paths across a worker pool sized to
// opts.Concurrency, checking each file's sparseness and filling as needed.
func validateAndFill(opts Options, onProgress ProgressFunc) (*Result, error) {
	total := len(opts.Paths)
	jobs := make(chan int, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	filesFilled := counter.NewStriped()
	regionsRefilled := counter.NewStriped()
	filesChecked := counter.NewStriped()

	var mu sync.Mutex
	var firstErr error
	var doneCount int64
	var wg sync.WaitGroup

	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func(workerSeed int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(workerSeed)*0x9E3779B97F4A7C15 + 1))
			for idx := range jobs {
				filled, err := prepareOne(opts, opts.Paths[idx], rng)
				filesChecked.Add(1)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("dataset: preparing %s: %w", opts.Paths[idx], err)
					}
					mu.Unlock()
					continue
				}
				if filled {
					filesFilled.Add(1)
					regionsRefilled.Add((opts.FileSize + int64(opts.BlockSize) - 1) / int64(opts.BlockSize))
				}

				mu.Lock()
				doneCount++
				d := doneCount
				mu.Unlock()
				if onProgress != nil && d%int64(opts.ProgressEvery) == 0 {
					onProgress(int(d), total)
				}
			}
		}(w)
	}
	wg.Wait()
	if onProgress != nil && total > 0 {
		onProgress(total, total)
	}

	result := &Result{
		FilesFilled:     filesFilled.Sum(),
		RegionsRefilled: regionsRefilled.Sum(),
		FilesChecked:    filesChecked.Sum(),
	}
	return result, firstErr
}

// prepareOne checks one file's sparseness and fills it in full if sparse,
// creating it at the configured size if it doesn't exist yet. Returns
// whether the file was (re)filled.
func prepareOne(opts Options, relPath string, rng *rand.Rand) (bool, error) {
	fullPath := filepath.Join(opts.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return false, err
	}

	_, statErr := os.Stat(fullPath)
	needsCreate := os.IsNotExist(statErr)
	if statErr != nil && !needsCreate {
		return false, statErr
	}

	if needsCreate {
		f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return false, err
		}
		if err := f.Truncate(opts.FileSize); err != nil {
			f.Close()
			return false, err
		}
		f.Close()
	}

	tgt, err := target.Open(fullPath, target.OpenMode{Write: true})
	if err != nil {
		return false, err
	}
	defer tgt.Close()

	if needsCreate {
		return true, tgt.RefillRegion(0, opts.FileSize, opts.BlockSize, opts.Pattern, rng)
	}

	sparse, err := tgt.IsSparse()
	if err != nil {
		return false, err
	}
	if !sparse {
		return false, nil
	}
	return true, tgt.RefillRegion(0, opts.FileSize, opts.BlockSize, opts.Pattern, rng)
}
