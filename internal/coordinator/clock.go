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

// Package coordinator implements the Coordinator side of the Coordinator/
// Node control plane: connection handshake, clock-offset measurement,
// synchronized start, heartbeat-driven delta calculation, the dead-man
// watch over silent nodes, and shutdown sequencing, per spec.md §4.5.
package coordinator

import (
	"fmt"
	"time"
)

// ClockRegime classifies a measured clock offset per spec.md §4.5.
type ClockRegime int

const (
	// RegimeAcceptAbsolute: |offset| < 10ms, absolute timestamps usable as-is.
	RegimeAcceptAbsolute ClockRegime = iota
	// RegimeConvert: 10-50ms, node timestamps must be converted via offset.
	RegimeConvert
	// RegimeRefuse: >50ms, refuse to start this node.
	RegimeRefuse
)

func (r ClockRegime) String() string {
	switch r {
	case RegimeAcceptAbsolute:
		return "accept-absolute"
	case RegimeConvert:
		return "convert"
	case RegimeRefuse:
		return "refuse"
	default:
		return "unknown"
	}
}

// ClockOffset is one measurement of a node's clock relative to the
// Coordinator's.
type ClockOffset struct {
	OffsetNs int64 // node_time - coordinator_time - rtt/2
	RTTNs    int64
	Regime   ClockRegime
}

// measureOffset computes offset = node_time - coordinator_time - rtt/2, the
// formula spec.md §4.5 prescribes for the READY round trip: sentAt is the
// Coordinator's clock when CONFIG was sent, receivedAt is the Coordinator's
// clock when READY arrived, and nodeTimeNs is the node's clock as reported
// inside READY.
func measureOffset(sentAt, receivedAt time.Time, nodeTimeNs int64) ClockOffset {
	rtt := receivedAt.Sub(sentAt).Nanoseconds()
	coordinatorTimeAtNodeRead := sentAt.Add(receivedAt.Sub(sentAt) / 2).UnixNano()
	offset := nodeTimeNs - coordinatorTimeAtNodeRead
	return ClockOffset{OffsetNs: offset, RTTNs: rtt, Regime: classifyOffset(offset)}
}

func classifyOffset(offsetNs int64) ClockRegime {
	abs := offsetNs
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 10*int64(time.Millisecond):
		return RegimeAcceptAbsolute
	case abs <= 50*int64(time.Millisecond):
		return RegimeConvert
	default:
		return RegimeRefuse
	}
}

// AdjustedStartNs converts a Coordinator-clock start timestamp to this
// node's clock, per the offset's regime: accept-absolute and convert both
// apply the same arithmetic (adding the offset), refuse is the caller's
// responsibility to check before calling.
func (c ClockOffset) AdjustedStartNs(coordinatorStartNs int64) int64 {
	return coordinatorStartNs + c.OffsetNs
}

// errRefused is returned by Connect when a node's measured clock offset
// exceeds the refuse threshold.
func errRefused(nodeID string, offset ClockOffset) error {
	return fmt.Errorf("coordinator: node %s clock offset %dms exceeds refusal threshold", nodeID, offset.OffsetNs/int64(time.Millisecond))
}
