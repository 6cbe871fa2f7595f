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

package backend

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// io_uring opcodes used by this backend. READ/WRITE (rather than
// READV/WRITEV) take a flat buffer pointer, matching the fixed-size aligned
// buffers every worker already owns.
const (
	ioringOpRead  = 22
	ioringOpWrite = 23
)

const (
	ioringOffSQRing = 0x00000000
	ioringOffCQRing = 0x08000000
	ioringOffSQEs   = 0x10000000
)

type ioUringParamsSQOff struct {
	Head, Tail, RingMask, RingEntries, Flags, Dropped, Array, Resv1 uint32
	Resv2                                                           uint64
}

type ioUringParamsCQOff struct {
	Head, Tail, RingMask, RingEntries, Overflow, CQEs, Flags, Resv1 uint32
	Resv2                                                           uint64
}

type ioUringParams struct {
	SQEntries, CQEntries, Flags, SQThreadCPU, SQThreadIdle, Features, WQFd uint32
	Resv                                                                   [3]uint32
	SQOff                                                                  ioUringParamsSQOff
	CQOff                                                                  ioUringParamsCQOff
}

type ioUringSQE struct {
	Opcode      uint8
	Flags       uint8
	Ioprio      uint16
	Fd          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	RWFlags     uint32
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFdIn  int32
	Pad         [2]uint64
}

type ioUringCQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Uring is the ring-based asynchronous backend: shared submission and
// completion rings mmap'd into the process, so steady-state polling never
// needs a per-operation system call once completions are available.
type Uring struct {
	state State
	fd    int

	sqRing, cqRing, sqes []byte
	sqHead, sqTail        *uint32
	sqMask, sqEntries     uint32
	sqArray               []uint32
	sqesPtr               []ioUringSQE

	cqHead, cqTail    *uint32
	cqMask            uint32
	cqesPtr           []ioUringCQE

	meta     []opMeta // indexed by BufferSlot (reused as SQE user_data)
	depth    int
	sqFilled uint32
}

// NewUring constructs an uninitialized ring-based backend.
func NewUring() *Uring { return &Uring{state: Uninitialized, fd: -1} }

func (u *Uring) Capabilities() Capabilities {
	return Capabilities{SupportsAsync: true, SupportsDirectIO: true, MaxQueueDepth: 1024, AllowsUnaligned: false}
}

func ptrAt(region []byte, offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&region[offset])
}

func (u *Uring) Init(cfg InitConfig) error {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1
	}
	if depth > 1024 {
		depth = 1024
	}
	var params ioUringParams
	params.SQEntries = uint32(depth)

	fd, _, errno := unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(depth), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return fmt.Errorf("uring backend: io_uring_setup: %v", errno)
	}
	u.fd = int(fd)

	sqRingSize := int(params.SQOff.Array) + int(params.SQEntries)*4
	cqRingSize := int(params.CQOff.CQEs) + int(params.CQEntries)*int(unsafe.Sizeof(ioUringCQE{}))

	sqRing, err := unix.Mmap(u.fd, ioringOffSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring backend: mmap sq ring: %w", err)
	}
	cqRing, err := unix.Mmap(u.fd, ioringOffCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring backend: mmap cq ring: %w", err)
	}
	sqes, err := unix.Mmap(u.fd, ioringOffSQEs, int(params.SQEntries)*int(unsafe.Sizeof(ioUringSQE{})), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return fmt.Errorf("uring backend: mmap sqes: %w", err)
	}

	u.sqRing, u.cqRing, u.sqes = sqRing, cqRing, sqes
	u.sqHead = (*uint32)(ptrAt(sqRing, params.SQOff.Head))
	u.sqTail = (*uint32)(ptrAt(sqRing, params.SQOff.Tail))
	u.sqMask = *(*uint32)(ptrAt(sqRing, params.SQOff.RingMask))
	u.sqEntries = params.SQEntries
	u.sqArray = unsafe.Slice((*uint32)(ptrAt(sqRing, params.SQOff.Array)), params.SQEntries)
	u.sqesPtr = unsafe.Slice((*ioUringSQE)(unsafe.Pointer(&sqes[0])), params.SQEntries)

	u.cqHead = (*uint32)(ptrAt(cqRing, params.CQOff.Head))
	u.cqTail = (*uint32)(ptrAt(cqRing, params.CQOff.Tail))
	u.cqMask = *(*uint32)(ptrAt(cqRing, params.CQOff.RingMask))
	u.cqesPtr = unsafe.Slice((*ioUringCQE)(ptrAt(cqRing, params.CQOff.CQEs)), params.CQEntries)

	u.depth = depth
	slots := depth
	if cfg.WorkerCapacityHint > slots {
		slots = cfg.WorkerCapacityHint
	}
	u.meta = make([]opMeta, slots)
	u.state = Initialized
	return nil
}

// Submit writes a submission-queue entry for the operation. The ring tail
// is not advanced per-operation; PollCompletions advances it once for the
// whole batch, keeping the steady-state path free of syscalls whenever
// completions are already queued.
func (u *Uring) Submit(op Operation) error {
	if u.state == Cleaned {
		return ErrClosed
	}
	if u.state == Uninitialized {
		return ErrNotInitialized
	}
	u.state = Submitting

	slot := int(op.BufferSlot)
	if slot < 0 || slot >= len(u.meta) {
		return fmt.Errorf("uring backend: buffer slot %d out of range [0,%d)", slot, len(u.meta))
	}

	tail := atomic.LoadUint32(u.sqTail)
	idx := (tail + u.sqFilled) & u.sqMask

	sqe := &u.sqesPtr[idx]
	*sqe = ioUringSQE{}
	sqe.Fd = int32(op.Target.File.Fd())
	sqe.Off = uint64(op.Offset)
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.Buffer[0])))
	sqe.Len = uint32(op.Length)
	sqe.UserData = uint64(slot)
	if op.Kind == OpWrite {
		sqe.Opcode = ioringOpWrite
	} else {
		sqe.Opcode = ioringOpRead
	}
	u.sqArray[idx] = idx
	u.meta[slot] = opMeta{token: op.Token, kind: op.Kind, metaOp: op.MetaOp}
	u.sqFilled++
	return nil
}

// PollCompletions publishes the batched submission tail with a single
// io_uring_enter call, then drains ready completion-queue entries without
// any further syscall when the kernel has already produced them.
func (u *Uring) PollCompletions(max int) ([]Completion, error) {
	if u.state == Uninitialized {
		return nil, ErrNotInitialized
	}
	u.state = Polling

	submitted := u.sqFilled
	if submitted > 0 {
		atomic.StoreUint32(u.sqTail, atomic.LoadUint32(u.sqTail)+submitted)
		u.sqFilled = 0
		const ioringEnterGetEvents = 1
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(u.fd), uintptr(submitted), uintptr(submitted), uintptr(ioringEnterGetEvents), 0, 0)
		if errno != 0 {
			return nil, fmt.Errorf("uring backend: io_uring_enter: %v", errno)
		}
	}

	head := atomic.LoadUint32(u.cqHead)
	tail := atomic.LoadUint32(u.cqTail)
	avail := int(tail - head)
	if max <= 0 || max > avail {
		max = avail
	}

	out := make([]Completion, 0, max)
	for i := 0; i < max; i++ {
		idx := (head + uint32(i)) & u.cqMask
		cqe := u.cqesPtr[idx]
		slot := int(cqe.UserData)
		m := u.meta[slot]
		c := Completion{Token: m.token, N: int(cqe.Res), Kind: m.kind, MetaOp: m.metaOp}
		if cqe.Res < 0 {
			c.Err = fmt.Errorf("uring backend: operation failed: res=%d", cqe.Res)
			c.N = 0
		}
		out = append(out, c)
	}
	atomic.StoreUint32(u.cqHead, head+uint32(max))
	return out, nil
}

func (u *Uring) Cleanup() error {
	u.state = Cleaned
	var firstErr error
	if u.sqes != nil {
		if err := unix.Munmap(u.sqes); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.cqRing != nil {
		if err := unix.Munmap(u.cqRing); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.sqRing != nil {
		if err := unix.Munmap(u.sqRing); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if u.fd >= 0 {
		if err := unix.Close(u.fd); err != nil && firstErr == nil {
			firstErr = err
		}
		u.fd = -1
	}
	return firstErr
}
