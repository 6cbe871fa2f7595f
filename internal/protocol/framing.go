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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameBytes bounds a single message body; large enough for a RESULTS
// message with thousands of per-worker histograms, small enough to refuse a
// corrupt or hostile length prefix outright.
const maxFrameBytes = 256 * 1024 * 1024

type envelope struct {
	Type MsgType         `msgpack:"type"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// Write frames payload as msgType and writes the 4-byte little-endian
// length prefix followed by the encoded body to w.
func Write(w io.Writer, msgType MsgType, payload interface{}) error {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s body: %w", msgType, err)
	}
	env := envelope{Type: msgType, Body: body}
	buf, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s envelope: %w", msgType, err)
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(buf)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write %s body: %w", msgType, err)
	}
	return nil
}

// Message is a received, still-encoded message: its type tag plus the raw
// body, which the caller decodes into the concrete struct its Type implies.
type Message struct {
	Type MsgType
	Body []byte
}

// Decode unmarshals m's body into dst (a pointer to one of the *Msg types).
func (m Message) Decode(dst interface{}) error {
	if err := msgpack.Unmarshal(m.Body, dst); err != nil {
		return fmt.Errorf("protocol: decode %s body: %w", m.Type, err)
	}
	return nil
}

// Read reads one length-prefixed frame from r and returns its type and raw
// body. An unrecognized type tag is a protocol error: the message set is
// closed (spec.md §6).
func Read(r io.Reader) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return Message{}, fmt.Errorf("protocol: frame length %d exceeds maximum %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, fmt.Errorf("protocol: read frame body: %w", err)
	}
	var env envelope
	if err := msgpack.Unmarshal(buf, &env); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if !env.Type.IsKnown() {
		return Message{}, errUnknownMsgType(env.Type)
	}
	return Message{Type: env.Type, Body: env.Body}, nil
}
