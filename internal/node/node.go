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

package node

import (
	"time"

	"iopulse/internal/protocol"
	"iopulse/internal/resource"
)

// defaultInterval is the heartbeat cadence, spec.md §4.7.
const defaultInterval = time.Second

// defaultMissedAckLimit is the dead-man switch threshold: three consecutive
// missed HEARTBEAT_ACKs, spec.md §4.5.
const defaultMissedAckLimit = 3

// Sampler is the subset of *resource.Sampler the aggregation loop needs;
// satisfied by resource.Sampler, narrowed here for test doubles.
type Sampler interface {
	Sample() (resource.Sample, error)
}

// Node wakes every Interval, aggregates its Registry's worker snapshots,
// samples process resources, and emits a HEARTBEAT. It also runs the
// dead-man timer: MissedAckLimit consecutive ticks with no HEARTBEAT_ACK
// observed since the previous tick triggers DeadMan.
type Node struct {
	ID       string
	Registry *Registry
	Sampler  Sampler

	Interval       time.Duration
	MissedAckLimit int

	start time.Time
}

// NewNode constructs a Node with spec-mandated defaults; override Interval
// and MissedAckLimit on the returned value only for tests.
func NewNode(id string, reg *Registry, sampler Sampler) *Node {
	return &Node{
		ID:             id,
		Registry:       reg,
		Sampler:        sampler,
		Interval:       defaultInterval,
		MissedAckLimit: defaultMissedAckLimit,
	}
}

// Run starts the heartbeat/dead-man loop. send transmits one HEARTBEAT;
// acks should receive a value each time a HEARTBEAT_ACK arrives from the
// Coordinator. stop ends the loop cleanly (e.g. on STOP or natural test
// completion). onDeadMan is called once, from within Run, if MissedAckLimit
// consecutive ticks pass with no ack observed; Run returns immediately
// after.
func (n *Node) Run(stop <-chan struct{}, acks <-chan struct{}, send func(protocol.HeartbeatMsg) error, onDeadMan func()) error {
	if n.Interval <= 0 {
		n.Interval = defaultInterval
	}
	if n.MissedAckLimit <= 0 {
		n.MissedAckLimit = defaultMissedAckLimit
	}
	n.start = time.Now()

	ticker := time.NewTicker(n.Interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			ackSeen := drainOne(acks)
			if ackSeen {
				missed = 0
			} else {
				missed++
			}
			if missed >= n.MissedAckLimit {
				if onDeadMan != nil {
					onDeadMan()
				}
				return nil
			}

			msg := n.buildHeartbeat()
			if send != nil {
				if err := send(msg); err != nil {
					return err
				}
			}
		}
	}
}

func (n *Node) buildHeartbeat() protocol.HeartbeatMsg {
	total, perWorker := n.Registry.Aggregate()

	msg := protocol.HeartbeatMsg{
		NodeID:        n.ID,
		PerWorker:     perWorker,
		NodeElapsedNs: time.Since(n.start).Nanoseconds(),
	}
	msg.Cumulative.WorkerSnapshot = total
	msg.Cumulative.ElapsedNanos = msg.NodeElapsedNs

	if n.Sampler != nil {
		if sample, err := n.Sampler.Sample(); err == nil {
			msg.Cumulative.CPUPercentPerThreadNormalized = sample.CPUPercentPerThreadNormalized
			msg.Cumulative.CPUPercentRaw = sample.CPUPercentRaw
			msg.Cumulative.ResidentMemoryBytes = sample.ResidentMemoryBytes
		}
	}
	return msg
}

// drainOne reports whether a value was available on ch without blocking,
// consuming at most one. Used to check "has an ACK arrived since I last
// looked" each tick.
func drainOne(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
