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

package coordinator

import (
	"io"
	"testing"
	"time"

	"iopulse/stats"
)

type nopRWC struct{ io.Reader; io.Writer }

func (nopRWC) Close() error { return nil }

func newTestHandle(id string) *NodeHandle {
	return &NodeHandle{ID: id, rw: nopRWC{}}
}

func TestApplyHeartbeatDiscardsFirstAsWarmup(t *testing.T) {
	n := newTestHandle("node-1")
	startedAt := time.Now()
	_, kept := n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 100}, int64(100*time.Millisecond), startedAt)
	if kept {
		t.Fatal("expected first heartbeat within warm-up window to be discarded")
	}
	if n.prevCumulative != nil {
		t.Fatal("expected no baseline recorded for a discarded warm-up heartbeat")
	}
}

func TestApplyHeartbeatComputesDeltaOnSecondCall(t *testing.T) {
	n := newTestHandle("node-1")
	startedAt := time.Now().Add(-time.Second) // well past warm-up

	_, kept := n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 100}, int64(1000*time.Millisecond), startedAt)
	if kept {
		t.Fatal("expected baseline heartbeat (past warm-up) to produce no delta")
	}
	if n.prevCumulative == nil {
		t.Fatal("expected baseline heartbeat (past warm-up) to be recorded")
	}

	point, kept := n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 250}, int64(2000*time.Millisecond), startedAt)
	if !kept {
		t.Fatal("expected second heartbeat to produce a delta")
	}
	if point.Delta.ReadOps != 150 {
		t.Fatalf("Delta.ReadOps = %d, want 150", point.Delta.ReadOps)
	}
	if point.ElapsedMs != 1000 {
		t.Fatalf("ElapsedMs = %d, want 1000", point.ElapsedMs)
	}
	wantIOPS := 150.0 * 1000.0 / 1000.0
	if point.IOPS != wantIOPS {
		t.Fatalf("IOPS = %f, want %f", point.IOPS, wantIOPS)
	}
}

func TestCheckDeadmanFiresAfterThreeMissedIntervals(t *testing.T) {
	n := newTestHandle("node-1")
	startedAt := time.Now().Add(-time.Second)
	n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 1}, int64(time.Second), startedAt)

	if n.checkDeadman() {
		t.Fatal("should not fire immediately after a heartbeat")
	}
	if n.checkDeadman() {
		t.Fatal("should not fire after only one missed interval")
	}
	if n.checkDeadman() {
		t.Fatal("should not fire after only two missed intervals")
	}
	if !n.checkDeadman() {
		t.Fatal("expected dead-man to fire on the third consecutive missed interval")
	}
}

func TestCheckDeadmanResetsOnNewHeartbeat(t *testing.T) {
	n := newTestHandle("node-1")
	startedAt := time.Now().Add(-time.Second)
	n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 1}, int64(time.Second), startedAt)

	n.checkDeadman() // consumes the heartbeat above
	n.checkDeadman() // one miss
	n.applyHeartbeat(stats.WorkerSnapshot{ReadOps: 2}, int64(2*time.Second), startedAt)
	if n.checkDeadman() {
		t.Fatal("a fresh heartbeat should reset the missed-interval counter")
	}
}
