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
	"time"

	"iopulse/stats"
)

// warmupWindow: the first heartbeat within this long of START is discarded
// as a warm-up artifact, per spec.md §4.5.
const warmupWindow = 500 * time.Millisecond

// prevState is the "previous cumulative" the delta formula is computed
// against; nil before the first accepted heartbeat.
type prevState struct {
	cumulative stats.WorkerSnapshot
	atNs       int64 // node-reported elapsed ns at that cumulative
	wallTime   time.Time
}

// DeltaPoint is one heartbeat interval's contribution to a node's
// time-series: exactly the activity between two consecutive accepted
// heartbeats.
type DeltaPoint struct {
	NodeID    string
	At        time.Time
	ElapsedMs int64
	Delta     stats.WorkerSnapshot
	IOPS      float64
}

// applyHeartbeat is the single authoritative place rates are derived
// (spec.md §4.5's "Delta calculation"). It returns the DeltaPoint for this
// heartbeat, or ok=false if no delta was produced: a first heartbeat inside
// the warm-up window after start is discarded outright, and the first
// heartbeat after that window only becomes the baseline.
func (n *NodeHandle) applyHeartbeat(cumulative stats.WorkerSnapshot, elapsedNs int64, startedAt time.Time) (DeltaPoint, bool) {
	now := time.Now()
	n.lastHeartbeatAt = now
	n.receivedSinceCheck = true

	if n.prevCumulative == nil {
		if now.Sub(startedAt) < warmupWindow {
			// Discard: store nothing so the very next heartbeat also has no
			// prior baseline and is itself treated as the first.
			return DeltaPoint{}, false
		}
		n.prevCumulative = &prevState{cumulative: cumulative, atNs: elapsedNs, wallTime: now}
		return DeltaPoint{}, false
	}

	elapsedMs := (elapsedNs - n.prevCumulative.atNs) / int64(time.Millisecond)
	delta := cumulative.Delta(&n.prevCumulative.cumulative)
	point := DeltaPoint{
		NodeID:    n.ID,
		At:        now,
		ElapsedMs: elapsedMs,
		Delta:     *delta,
		IOPS:      delta.IOPS(elapsedMs),
	}
	n.prevCumulative = &prevState{cumulative: cumulative, atNs: elapsedNs, wallTime: now}
	return point, true
}

// checkDeadman is called once per heartbeat interval by the Coordinator's
// watch loop. It increments the missed-interval counter unless a heartbeat
// arrived since the previous call, and reports whether this node has now
// gone silent for three consecutive intervals (spec.md §4.5's dead-man
// switch, Coordinator side).
func (n *NodeHandle) checkDeadman() bool {
	if n.receivedSinceCheck {
		n.missedIntervals = 0
	} else {
		n.missedIntervals++
	}
	n.receivedSinceCheck = false
	return n.missedIntervals >= 3
}
