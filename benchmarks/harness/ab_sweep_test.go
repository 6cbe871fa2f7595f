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

package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"
)

// harnessResult holds parsed metrics from one subprocess run of the harness.
type harnessResult struct {
	Backend      string
	Distribution string
	Ops          int64
	Duration     time.Duration
	OpsPerSec    float64
	P50us        float64
	P95us        float64
	P99us        float64
	ReadBytes    int64
	WriteBytes   int64
}

var (
	reVariant  = regexp.MustCompile(`^Variant:\s+(\w+)/(\w+)\s+Ops:\s+(\d+)`)
	reDuration = regexp.MustCompile(`^Duration:\s+([^\s]+)\s+Ops/sec:\s+([0-9.]+)`)
	reLatency  = regexp.MustCompile(`^Latency p50:\s+([0-9.]+)us\s+p95:\s+([0-9.]+)us\s+p99:\s+([0-9.]+)us`)
	reIO       = regexp.MustCompile(`^IO:\s+read_bytes=(\d+)\s+write_bytes=(\d+)`)
)

func parseHarnessOutput(out string) (h harnessResult, _ error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := reVariant.FindStringSubmatch(line); m != nil {
			h.Backend = m[1]
			h.Distribution = m[2]
			ops, _ := strconv.ParseInt(m[3], 10, 64)
			h.Ops = ops
			continue
		}
		if m := reDuration.FindStringSubmatch(line); m != nil {
			if dur, err := time.ParseDuration(m[1]); err == nil {
				h.Duration = dur
			}
			if v, err := strconv.ParseFloat(m[2], 64); err == nil {
				h.OpsPerSec = v
			}
			continue
		}
		if m := reLatency.FindStringSubmatch(line); m != nil {
			h.P50us, _ = strconv.ParseFloat(m[1], 64)
			h.P95us, _ = strconv.ParseFloat(m[2], 64)
			h.P99us, _ = strconv.ParseFloat(m[3], 64)
			continue
		}
		if m := reIO.FindStringSubmatch(line); m != nil {
			h.ReadBytes, _ = strconv.ParseInt(m[1], 10, 64)
			h.WriteBytes, _ = strconv.ParseInt(m[2], 10, 64)
			continue
		}
	}
	return h, scanner.Err()
}

// runHarness runs `go run .` inside this package's directory with the
// provided args, and returns parsed metrics and raw output.
func runHarness(t *testing.T, args ...string) (harnessResult, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", append([]string{"run", "."}, args...)...)
	cmd.Env = os.Environ()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		t.Fatalf("harness failed: %v\nOutput:\n%s", err, buf.String())
	}
	res, err := parseHarnessOutput(buf.String())
	if err != nil {
		t.Fatalf("parse error: %v\nOutput:\n%s", err, buf.String())
	}
	return res, buf.String()
}

// TestABSweepSyncVsAsyncAtDepth runs the harness for the sync backend and
// an async backend at a queue depth high enough that Select actually keeps
// the async choice, and checks both report plausible, non-degenerate
// throughput and latency.
func TestABSweepSyncVsAsyncAtDepth(t *testing.T) {
	if testing.Short() || os.Getenv("HARNESS_AB") == "" {
		t.Skip("skipping A/B sweep (set HARNESS_AB=1 to run)")
	}

	duration := getenvDefault("HARNESS_DURATION", "250ms")
	blockSize := getenvDefault("HARNESS_BLOCK_SIZE", "4096")
	fileSize := getenvDefault("HARNESS_FILE_SIZE", "67108864")

	backends := []string{"sync", "uring"}
	for _, be := range backends {
		args := []string{
			"-backend=" + be,
			"-distribution=uniform",
			"-duration=" + duration,
			"-block_size=" + blockSize,
			"-file_size=" + fileSize,
			"-queue_depth=8",
			"-max_latency_samples=50000",
		}
		res, out := runHarness(t, args...)
		t.Logf("backend=%s\n%s", be, trimToTail(out, 10))

		if res.Ops == 0 {
			t.Fatalf("backend=%s: zero ops reported", be)
		}
		if res.Duration == 0 {
			t.Fatalf("backend=%s: zero duration parsed", be)
		}
		if res.P99us <= 0 {
			t.Fatalf("backend=%s: non-positive p99 latency", be)
		}
	}
}

// TestDistributionSweepRuns confirms the harness accepts and completes a
// run for every supported offset distribution.
func TestDistributionSweepRuns(t *testing.T) {
	if testing.Short() || os.Getenv("HARNESS_TUNE") == "" {
		t.Skip("skipping distribution sweep (set HARNESS_TUNE=1 to run)")
	}
	dists := []string{"uniform", "zipf", "pareto", "gaussian"}
	for _, d := range dists {
		args := []string{
			"-backend=sync",
			"-distribution=" + d,
			"-duration=150ms",
			"-block_size=4096",
			"-file_size=33554432",
			"-max_latency_samples=20000",
		}
		res, out := runHarness(t, args...)
		if res.Ops == 0 {
			t.Fatalf("distribution=%s: no ops\n%s", d, out)
		}
		t.Logf("distribution=%s: ops=%d p99=%.1fus", d, res.Ops, res.P99us)
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// trimToTail returns the last n lines of s.
func trimToTail(s string, n int) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
