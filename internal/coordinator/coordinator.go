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
	"fmt"
	"sync"
	"time"

	"iopulse/internal/protocol"
	"iopulse/stats"
)

// State is the Coordinator's lifecycle state, spec.md §4.5's state machine.
type State int

const (
	StateConnecting State = iota
	StateConfiguring
	StateWaitingReady
	StateStarting
	StateRunning
	StateStopping
	StateCollecting
	StateAggregating
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateConfiguring:
		return "Configuring"
	case StateWaitingReady:
		return "WaitingReady"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCollecting:
		return "Collecting"
	case StateAggregating:
		return "Aggregating"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// defaultStartDelta is Δ in spec.md §4.5's synchronized start, large enough
// to cover worst-case one-way cross-zone latency plus processing.
const defaultStartDelta = 100 * time.Millisecond

// stopGrace / resultsGrace are spec.md §5's shutdown grace periods.
const (
	stopGrace    = 10 * time.Second
	resultsGrace = 30 * time.Second
)

// Result is one node's final outcome, collected at test end.
type Result struct {
	NodeID    string
	Final     stats.NodeSnapshot
	PerWorker []stats.WorkerSnapshot
	Err       error // non-nil if RESULTS never arrived within resultsGrace
}

// Coordinator drives one distributed (or single-node loopback) test run
// across a set of already-CONFIG'd, READY Nodes.
type Coordinator struct {
	mu         sync.Mutex
	state      State
	nodes      map[string]*NodeHandle
	startDelta time.Duration
	series     []DeltaPoint
	startedAt  time.Time
	failedNode string
}

// New constructs a Coordinator over handles already returned by Connect.
func New(handles []*NodeHandle) *Coordinator {
	nodes := make(map[string]*NodeHandle, len(handles))
	for _, h := range handles {
		nodes[h.ID] = h
	}
	return &Coordinator{
		state:      StateWaitingReady,
		nodes:      nodes,
		startDelta: defaultStartDelta,
	}
}

// State reports the Coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Series returns a copy of the accumulated delta time-series across all
// nodes, in the order points were recorded.
func (c *Coordinator) Series() []DeltaPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeltaPoint, len(c.series))
	copy(out, c.series)
	return out
}

// Start computes start_time = now + Δ on the Coordinator's clock, sends
// START to every node with that timestamp adjusted per node's measured
// clock offset, and transitions to Running.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateStarting
	coordinatorStart := time.Now().Add(c.startDelta)
	for id, n := range c.nodes {
		adjusted := n.Offset.AdjustedStartNs(coordinatorStart.UnixNano())
		if err := protocol.Write(n.rw, protocol.MsgStart, &protocol.StartMsg{StartUnixNs: adjusted}); err != nil {
			return fmt.Errorf("coordinator: send START to %s: %w", id, err)
		}
	}
	c.startedAt = coordinatorStart
	c.state = StateRunning
	return nil
}

// HandleHeartbeat applies one HEARTBEAT from nodeID, records the resulting
// DeltaPoint (if not discarded as warm-up), and reports whether a HEARTBEAT_ACK
// should be sent back (false only if nodeID is unknown).
func (c *Coordinator) HandleHeartbeat(nodeID string, msg protocol.HeartbeatMsg) (DeltaPoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return DeltaPoint{}, false, fmt.Errorf("coordinator: heartbeat from unknown node %s", nodeID)
	}
	point, kept := n.applyHeartbeat(msg.Cumulative.WorkerSnapshot, msg.NodeElapsedNs, c.startedAt)
	if kept {
		c.series = append(c.series, point)
	}
	return point, true, nil
}

// Acknowledge sends HEARTBEAT_ACK to nodeID, resetting its dead-man timer
// on the Node side.
func (c *Coordinator) Acknowledge(nodeID string) error {
	c.mu.Lock()
	n, ok := c.nodes[nodeID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: acknowledge unknown node %s", nodeID)
	}
	return protocol.Write(n.rw, protocol.MsgHeartbeatAck, &protocol.HeartbeatAckMsg{})
}

// WatchOnce runs one dead-man check across all nodes; call it once per
// heartbeat interval. It returns the ID of a node just declared silent for
// three consecutive intervals, or "" if every node is healthy. On a failure
// it marks the Coordinator Failed and sends STOP to every surviving node
// (spec.md §4.5).
func (c *Coordinator) WatchOnce() (failedNodeID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, n := range c.nodes {
		if n.failed {
			continue
		}
		if n.checkDeadman() {
			n.failed = true
			c.state = StateFailed
			c.failedNode = id
			for otherID, other := range c.nodes {
				if otherID == id || other.failed {
					continue
				}
				_ = protocol.Write(other.rw, protocol.MsgStop, &protocol.StopMsg{})
			}
			return id, nil
		}
	}
	return "", nil
}

// Stop transitions to Stopping and sends STOP to every node.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateStopping
	var firstErr error
	for id, n := range c.nodes {
		if n.failed {
			continue
		}
		if err := protocol.Write(n.rw, protocol.MsgStop, &protocol.StopMsg{}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("coordinator: send STOP to %s: %w", id, err)
		}
	}
	return firstErr
}

// CollectResults reads one RESULTS message per still-connected node,
// waiting up to resultsGrace overall. A node that never answers is
// reported with a non-nil Err but does not block collection from the
// others, per spec.md §4.5/§5's "collects partial RESULTS".
func (c *Coordinator) CollectResults() []Result {
	c.mu.Lock()
	c.state = StateCollecting
	handles := make([]*NodeHandle, 0, len(c.nodes))
	for _, n := range c.nodes {
		if !n.failed {
			handles = append(handles, n)
		}
	}
	c.mu.Unlock()

	type indexed struct {
		idx int
		res Result
	}
	resultsCh := make(chan indexed, len(handles))
	for i, n := range handles {
		go func(i int, n *NodeHandle) {
			msg, err := protocol.Read(n.rw)
			if err != nil {
				resultsCh <- indexed{i, Result{NodeID: n.ID, Err: fmt.Errorf("coordinator: read RESULTS from %s: %w", n.ID, err)}}
				return
			}
			if msg.Type != protocol.MsgResults {
				resultsCh <- indexed{i, Result{NodeID: n.ID, Err: fmt.Errorf("coordinator: %s sent %s, expected RESULTS", n.ID, msg.Type)}}
				return
			}
			var r protocol.ResultsMsg
			if err := msg.Decode(&r); err != nil {
				resultsCh <- indexed{i, Result{NodeID: n.ID, Err: fmt.Errorf("coordinator: decode RESULTS from %s: %w", n.ID, err)}}
				return
			}
			resultsCh <- indexed{i, Result{NodeID: r.NodeID, Final: r.Final, PerWorker: r.PerWorker}}
		}(i, n)
	}

	results := make([]Result, len(handles))
	timeout := time.After(resultsGrace)
	for i := 0; i < len(handles); i++ {
		select {
		case got := <-resultsCh:
			results[got.idx] = got.res
		case <-timeout:
			for j := range results {
				if results[j].NodeID == "" {
					results[j] = Result{NodeID: handles[j].ID, Err: fmt.Errorf("coordinator: %s grace period expired awaiting RESULTS", handles[j].ID)}
				}
			}
			c.mu.Lock()
			c.state = StateAggregating
			c.mu.Unlock()
			return results
		}
	}
	c.mu.Lock()
	c.state = StateAggregating
	c.mu.Unlock()
	return results
}

// Aggregate sums every successful Result's Final snapshot into one grand
// total and finalizes the Coordinator's state as Complete.
func (c *Coordinator) Aggregate(results []Result) stats.WorkerSnapshot {
	var total stats.WorkerSnapshot
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		ws := r.Final.WorkerSnapshot
		total.Add(&ws)
	}
	c.mu.Lock()
	c.state = StateComplete
	c.mu.Unlock()
	return total
}

// CloseAll closes every node connection; call at the very end.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		_ = n.Close()
	}
}
