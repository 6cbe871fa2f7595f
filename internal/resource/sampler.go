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

// Package resource samples this process's CPU time and resident memory from
// the OS process-status interface, per spec.md §4.8.
package resource

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Sample is one point-in-time reading, plus the two CPU% conventions spec.md
// §4.8 requires a consumer to be able to distinguish between.
type Sample struct {
	// CPUPercentPerThreadNormalized is (Δcpu_time_ns * 100) / (Δwall_time_ns * n_threads).
	CPUPercentPerThreadNormalized float64
	// CPUPercentRaw is the unnormalized sum; may exceed 100% on multi-thread work.
	CPUPercentRaw       float64
	ResidentMemoryBytes int64
}

// Sampler takes first-difference CPU readings across successive calls to
// Sample; the first call after New always reports zero CPU percentages
// since there is no prior reading to difference against.
type Sampler struct {
	proc procfs.Proc

	haveLast    bool
	lastCPUSecs float64
	lastWall    time.Time
}

// New opens a Sampler for the calling process.
func New() (*Sampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("resource: open procfs: %w", err)
	}
	proc, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("resource: open self proc: %w", err)
	}
	return &Sampler{proc: proc}, nil
}

// Sample reads current CPU time and resident memory and returns a Sample
// reflecting the delta since the previous call (zeroed CPU fields on the
// first call).
func (s *Sampler) Sample() (Sample, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("resource: read proc stat: %w", err)
	}

	now := time.Now()
	cpuSecs := stat.CPUTime()
	rss := int64(stat.ResidentMemory())

	out := Sample{ResidentMemoryBytes: rss}
	if !s.haveLast {
		s.haveLast = true
		s.lastCPUSecs = cpuSecs
		s.lastWall = now
		return out, nil
	}

	deltaCPU := cpuSecs - s.lastCPUSecs
	deltaWall := now.Sub(s.lastWall).Seconds()
	s.lastCPUSecs = cpuSecs
	s.lastWall = now

	if deltaWall <= 0 {
		return out, nil
	}
	rawPercent := 100 * deltaCPU / deltaWall
	out.CPUPercentRaw = rawPercent

	nThreads := float64(stat.NumThreads)
	if nThreads <= 0 {
		nThreads = 1
	}
	out.CPUPercentPerThreadNormalized = rawPercent / nThreads
	return out, nil
}
