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

package resource

import (
	"testing"
	"time"
)

func TestSampleFirstCallReportsZeroCPU(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Skipf("procfs unavailable in this environment: %v", err)
	}
	sample, err := s.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.CPUPercentRaw != 0 || sample.CPUPercentPerThreadNormalized != 0 {
		t.Fatalf("expected zero CPU on first sample, got %+v", sample)
	}
	if sample.ResidentMemoryBytes <= 0 {
		t.Fatalf("expected positive resident memory, got %d", sample.ResidentMemoryBytes)
	}
}

func TestSampleSecondCallReportsDelta(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Skipf("procfs unavailable in this environment: %v", err)
	}
	if _, err := s.Sample(); err != nil {
		t.Fatalf("first Sample: %v", err)
	}

	// burn some CPU so the second reading has a nonzero delta to report
	deadline := time.Now().Add(20 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x

	sample, err := s.Sample()
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	if sample.CPUPercentRaw < 0 {
		t.Fatalf("CPUPercentRaw should never be negative, got %f", sample.CPUPercentRaw)
	}
	if sample.CPUPercentPerThreadNormalized < 0 {
		t.Fatalf("CPUPercentPerThreadNormalized should never be negative, got %f", sample.CPUPercentPerThreadNormalized)
	}
}
