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

// Package target implements the per-file/per-device surface spec.md §6
// describes: open with requested flags, kernel advice, size query,
// optional preallocation, positional I/O, optional locking, fsync, close,
// plus sparse-file detection and region refill for dataset preparation.
package target

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenMode selects the flags a Target is opened with.
type OpenMode struct {
	Write  bool
	Direct bool
	Sync   bool
}

// Advice mirrors posix_fadvise hints; combinable per spec.md §6.
type Advice int

const (
	AdviceNone Advice = iota
	AdviceSequential
	AdviceRandom
	AdviceWillNeed
	AdviceDontNeed
	AdviceNoReuse
)

// Target is one open file or block device.
type Target struct {
	Path string
	File *os.File
}

// Open opens path with the requested mode. Direct I/O requires the caller's
// block size/alignment to match O_DIRECT's requirements; Open does not
// check them.
func Open(path string, mode OpenMode) (*Target, error) {
	flags := os.O_RDONLY
	if mode.Write {
		flags = os.O_RDWR
	}
	if mode.Direct {
		flags |= unix.O_DIRECT
	}
	if mode.Sync {
		flags |= unix.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("target: open %s: %w", path, err)
	}
	return &Target{Path: path, File: f}, nil
}

// Size returns the target's logical size in bytes.
func (t *Target) Size() (int64, error) {
	fi, err := t.File.Stat()
	if err != nil {
		return 0, fmt.Errorf("target: stat %s: %w", t.Path, err)
	}
	return fi.Size(), nil
}

// Advise issues a posix_fadvise hint over the whole file. Hints are
// best-effort: an error here never aborts a run.
func (t *Target) Advise(a Advice) error {
	var hint int
	switch a {
	case AdviceSequential:
		hint = unix.FADV_SEQUENTIAL
	case AdviceRandom:
		hint = unix.FADV_RANDOM
	case AdviceWillNeed:
		hint = unix.FADV_WILLNEED
	case AdviceDontNeed:
		hint = unix.FADV_DONTNEED
	case AdviceNoReuse:
		hint = unix.FADV_NOREUSE
	default:
		return nil
	}
	return unix.Fadvise(int(t.File.Fd()), 0, 0, hint)
}

// Preallocate extends the file to size bytes without requiring it be
// written, used before filling sparse regions.
func (t *Target) Preallocate(size int64) error {
	return unix.Fallocate(int(t.File.Fd()), 0, 0, size)
}

// LockWhole acquires a whole-file advisory lock. The wait is not timed:
// no caller records it in a latency histogram (WorkerSnapshot.LockLatency
// stays empty), and it is not folded into I/O latency either.
func (t *Target) LockWhole(exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	return unix.Flock(int(t.File.Fd()), how)
}

// Unlock releases a lock acquired by LockWhole.
func (t *Target) Unlock() error {
	return unix.Flock(int(t.File.Fd()), unix.LOCK_UN)
}

// Fsync flushes data and metadata to stable storage.
func (t *Target) Fsync() error {
	return t.File.Sync()
}

// Fdatasync flushes data only, skipping metadata the kernel doesn't need to
// replay to read it back. It calls fdatasync(2) directly and returns its
// error; there is no fallback to Fsync.
func (t *Target) Fdatasync() error {
	return unix.Fdatasync(int(t.File.Fd()))
}

// ReadAt and WriteAt retry on short transfers: spec.md §7 classifies short
// transfers on positional backends as not-an-error, requiring the remainder
// be resubmitted rather than surfaced as a failure.
func (t *Target) ReadAt(buf []byte, offset int64) (int, error) {
	return readFullAt(t.File, buf, offset)
}

func (t *Target) WriteAt(buf []byte, offset int64) (int, error) {
	return writeFullAt(t.File, buf, offset)
}

func readFullAt(f *os.File, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.ReadAt(buf[total:], offset+int64(total))
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

func writeFullAt(f *os.File, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.WriteAt(buf[total:], offset+int64(total))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close closes the underlying file.
func (t *Target) Close() error {
	return t.File.Close()
}

// AllocatedBytes returns the actual on-disk allocation (block count * 512),
// used by sparse-file detection: a file whose allocation is under 10% of its
// logical size is declared sparse per spec.md §4.6.
func (t *Target) AllocatedBytes() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(t.File.Fd()), &st); err != nil {
		return 0, fmt.Errorf("target: fstat %s: %w", t.Path, err)
	}
	return int64(st.Blocks) * 512, nil
}

// IsSparse reports whether the target's allocated bytes fall under 10% of
// its logical size.
func (t *Target) IsSparse() (bool, error) {
	logical, err := t.Size()
	if err != nil {
		return false, err
	}
	if logical == 0 {
		return false, nil
	}
	allocated, err := t.AllocatedBytes()
	if err != nil {
		return false, err
	}
	return float64(allocated) < 0.10*float64(logical), nil
}
