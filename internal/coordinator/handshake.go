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
	"io"
	"time"

	"iopulse/internal/protocol"
)

// NodeHandle is the Coordinator's view of one connected Node: its
// connection, measured clock offset, and the running delta/dead-man state
// tracked across the test.
type NodeHandle struct {
	ID          string
	rw          io.ReadWriteCloser
	WorkerCount int
	Offset      ClockOffset

	prevCumulative     *prevState
	missedIntervals    int
	receivedSinceCheck bool
	lastHeartbeatAt    time.Time
	failed             bool
}

// Close releases the underlying connection.
func (n *NodeHandle) Close() error { return n.rw.Close() }

// Connect sends CONFIG to rw, awaits READY, measures this node's clock
// offset, and rejects a protocol-version mismatch or an offset in the
// refuse regime (spec.md §4.5's clock handling).
func Connect(nodeID string, rw io.ReadWriteCloser, cfg protocol.ConfigMsg) (*NodeHandle, error) {
	cfg.ProtocolVersion = protocol.Version
	sentAt := time.Now()
	if err := protocol.Write(rw, protocol.MsgConfig, &cfg); err != nil {
		return nil, fmt.Errorf("coordinator: send CONFIG to %s: %w", nodeID, err)
	}

	msg, err := protocol.Read(rw)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read from %s awaiting READY: %w", nodeID, err)
	}
	receivedAt := time.Now()
	if msg.Type != protocol.MsgReady {
		return nil, fmt.Errorf("coordinator: %s sent %s, expected READY", nodeID, msg.Type)
	}
	var ready protocol.ReadyMsg
	if err := msg.Decode(&ready); err != nil {
		return nil, fmt.Errorf("coordinator: decode READY from %s: %w", nodeID, err)
	}
	if ready.ProtocolVersion != protocol.Version {
		return nil, fmt.Errorf("coordinator: %s protocol version %d != %d", nodeID, ready.ProtocolVersion, protocol.Version)
	}

	offset := measureOffset(sentAt, receivedAt, ready.NodeTimeUnixNs)
	if offset.Regime == RegimeRefuse {
		return nil, errRefused(nodeID, offset)
	}

	return &NodeHandle{
		ID:          nodeID,
		rw:          rw,
		WorkerCount: ready.WorkerCount,
		Offset:      offset,
	}, nil
}
