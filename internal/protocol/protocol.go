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

// Package protocol implements the Coordinator/Node wire protocol: a closed
// message set over a 32-bit length-prefixed MessagePack encoding, per
// spec.md §4.5/§6.
package protocol

import (
	"fmt"

	"iopulse/stats"
)

// Version is the single 32-bit protocol version negotiated in the first
// exchange; both ends reject a mismatch with an explicit error.
const Version uint32 = 1

// MsgType enumerates the closed message set; an unrecognized tag is a
// protocol error, not silently ignored.
type MsgType uint8

const (
	MsgConfig MsgType = iota + 1
	MsgReady
	MsgStart
	MsgHeartbeat
	MsgHeartbeatAck
	MsgStop
	MsgResults
	MsgError
)

func (t MsgType) String() string {
	switch t {
	case MsgConfig:
		return "CONFIG"
	case MsgReady:
		return "READY"
	case MsgStart:
		return "START"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgHeartbeatAck:
		return "HEARTBEAT_ACK"
	case MsgStop:
		return "STOP"
	case MsgResults:
		return "RESULTS"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsKnown reports whether t is one of the closed set's members.
func (t MsgType) IsKnown() bool {
	switch t {
	case MsgConfig, MsgReady, MsgStart, MsgHeartbeat, MsgHeartbeatAck, MsgStop, MsgResults, MsgError:
		return true
	default:
		return false
	}
}

// WorkerAssignment is one worker's share of the global partition computed
// by the Coordinator (spec.md §4.5's "global work partitioning").
type WorkerAssignment struct {
	WorkerID   int    `msgpack:"worker_id"`
	RegionLo   int64  `msgpack:"region_lo"` // zero value (lo==hi) means "shared": unpartitioned
	RegionHi   int64  `msgpack:"region_hi"`
	FileName   string `msgpack:"file_name"` // set under per-worker file distribution
}

// WorkloadSpec carries the dials a Worker needs, opaque to everything above
// the protocol layer (CLI/config parsing is out of scope per spec.md §1).
type WorkloadSpec struct {
	BlockSize         int     `msgpack:"block_size"`
	ReadPercent       int     `msgpack:"read_percent"`
	AccessPattern     string  `msgpack:"access_pattern"` // random|sequential
	Distribution      string  `msgpack:"distribution"` // uniform|zipf|pareto|gaussian
	DistributionTheta float64 `msgpack:"distribution_theta"`
	GaussianMu        float64 `msgpack:"gaussian_mu"`
	QueueDepth        int     `msgpack:"queue_depth"`
	Backend           string  `msgpack:"backend"` // sync|uring|aio|mmap
	DirectIO          bool    `msgpack:"direct_io"`
	Alignment         int     `msgpack:"alignment"`
	DurationMs        int64   `msgpack:"duration_ms"`
	TotalBytesLimit   int64   `msgpack:"total_bytes_limit"`
	RunUntilComplete  bool    `msgpack:"run_until_complete"`
	WritePattern      string  `msgpack:"write_pattern"` // random|zero|fixed_byte
	FileDistribution  string  `msgpack:"file_distribution"` // shared|per_worker|file_list
	FileLocking       bool    `msgpack:"file_locking"`
	AllowWriteConflicts bool  `msgpack:"allow_write_conflicts"`
	ContinueOnError   bool    `msgpack:"continue_on_error"`
	ErrorCap          int     `msgpack:"error_cap"`
}

// ConfigMsg is Coordinator -> Node.
type ConfigMsg struct {
	ProtocolVersion  uint32             `msgpack:"protocol_version"`
	Workload         WorkloadSpec       `msgpack:"workload"`
	WorkerCount      int                `msgpack:"worker_count"`
	Assignments      []WorkerAssignment `msgpack:"assignments"`
	SkipPreparation  bool               `msgpack:"skip_preparation"`
}

// ReadyMsg is Node -> Coordinator, sent after preparation completes.
type ReadyMsg struct {
	ProtocolVersion uint32 `msgpack:"protocol_version"`
	NodeID          string `msgpack:"node_id"`
	WorkerCount     int    `msgpack:"worker_count"`
	NodeTimeUnixNs  int64  `msgpack:"node_time_unix_ns"` // for clock offset measurement
}

// StartMsg is Coordinator -> Node: the absolute start timestamp, already
// adjusted for this node's measured clock offset.
type StartMsg struct {
	StartUnixNs int64 `msgpack:"start_unix_ns"`
}

// StopMsg is Coordinator -> Node; carries no fields.
type StopMsg struct{}

// HeartbeatAckMsg is Coordinator -> Node; resets the Node's dead-man timer.
type HeartbeatAckMsg struct{}

// HeartbeatMsg is Node -> Coordinator, sent every 1s with cumulative stats.
type HeartbeatMsg struct {
	NodeID          string                `msgpack:"node_id"`
	Cumulative      stats.NodeSnapshot    `msgpack:"cumulative"`
	PerWorker       []stats.WorkerSnapshot `msgpack:"per_worker,omitempty"`
	NodeElapsedNs   int64                 `msgpack:"node_elapsed_ns"`
}

// ResultsMsg is Node -> Coordinator, sent once on STOP or natural completion.
type ResultsMsg struct {
	NodeID     string                 `msgpack:"node_id"`
	Final      stats.NodeSnapshot     `msgpack:"final"`
	PerWorker  []stats.WorkerSnapshot `msgpack:"per_worker"`
}

// ErrorMsg carries a free-text reason, sent by either end.
type ErrorMsg struct {
	Reason string `msgpack:"reason"`
}

// errUnknownMsgType builds the error Read returns when the envelope's type
// tag is outside the closed message set.
func errUnknownMsgType(t MsgType) error {
	return fmt.Errorf("protocol: unknown message type %d", t)
}
