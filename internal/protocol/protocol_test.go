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

package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestWriteReadConfigRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := ConfigMsg{
		ProtocolVersion: Version,
		Workload: WorkloadSpec{
			BlockSize:    4096,
			ReadPercent:  70,
			Distribution: "zipf",
			QueueDepth:   32,
			Backend:      "uring",
		},
		WorkerCount: 4,
		Assignments: []WorkerAssignment{{WorkerID: 0, RegionLo: 0, RegionHi: 100}},
	}
	if err := Write(&buf, MsgConfig, &want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	msg, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msg.Type != MsgConfig {
		t.Fatalf("Type = %v, want MsgConfig", msg.Type)
	}
	var got ConfigMsg
	if err := msg.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Workload.BlockSize != want.Workload.BlockSize || got.Workload.Backend != want.Workload.Backend {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Assignments) != 1 || got.Assignments[0].RegionHi != 100 {
		t.Fatalf("assignments mismatch: %+v", got.Assignments)
	}
}

func TestWriteReadHeartbeatRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := HeartbeatMsg{NodeID: "node-1", NodeElapsedNs: 5_000_000_000}
	want.Cumulative.ReadOps = 12345
	if err := Write(&buf, MsgHeartbeat, &want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	msg, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var got HeartbeatMsg
	if err := msg.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.NodeID != "node-1" || got.Cumulative.ReadOps != 12345 {
		t.Fatalf("got %+v", got)
	}
}

func TestReadRejectsUnknownMessageType(t *testing.T) {
	env := envelope{Type: MsgType(99), Body: nil}
	encoded, err := msgpack.Marshal(&env)
	if err != nil {
		t.Fatalf("marshal test envelope: %v", err)
	}
	var buf bytes.Buffer
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(encoded)))
	buf.Write(lenPrefix[:])
	buf.Write(encoded)

	_, err = Read(&buf)
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestMsgTypeStringCoversKnownTypes(t *testing.T) {
	for _, tt := range []struct {
		mt   MsgType
		want string
	}{
		{MsgConfig, "CONFIG"},
		{MsgReady, "READY"},
		{MsgStart, "START"},
		{MsgHeartbeat, "HEARTBEAT"},
		{MsgHeartbeatAck, "HEARTBEAT_ACK"},
		{MsgStop, "STOP"},
		{MsgResults, "RESULTS"},
		{MsgError, "ERROR"},
	} {
		if got := tt.mt.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.mt, got, tt.want)
		}
	}
}

func TestReadOnTruncatedStreamReturnsError(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x05, 0x00, 0x00, 0x00, 0x01})
	if _, err := Read(buf); err == nil {
		t.Fatal("expected error reading truncated frame")
	}
}
