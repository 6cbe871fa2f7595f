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

package target

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSizeWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")
	if err := os.WriteFile(path, make([]byte, 8192), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tg, err := Open(path, OpenMode{Write: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tg.Close()

	size, err := tg.Size()
	if err != nil || size != 8192 {
		t.Fatalf("Size() = %d, %v; want 8192, nil", size, err)
	}

	payload := []byte("0123456789abcdef")
	if n, err := tg.WriteAt(payload, 100); err != nil || n != len(payload) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}
	got := make([]byte, len(payload))
	if n, err := tg.ReadAt(got, 100); err != nil || n != len(payload) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if string(got) != string(payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestIsSparseDetectsUnallocatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sparse")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(10 * 1024 * 1024); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	tg, err := Open(path, OpenMode{Write: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tg.Close()

	sparse, err := tg.IsSparse()
	if err != nil {
		t.Fatalf("IsSparse: %v", err)
	}
	if !sparse {
		t.Fatal("expected a freshly truncated file to be reported sparse")
	}
}

func TestRefillRegionFillsRequestedRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refill")
	if err := os.WriteFile(path, make([]byte, 4096*4), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tg, err := Open(path, OpenMode{Write: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tg.Close()

	rng := rand.New(rand.NewSource(1))
	if err := tg.RefillRegion(0, 4096*4, 4096, PatternFixedByte, rng); err != nil {
		t.Fatalf("RefillRegion: %v", err)
	}
	buf := make([]byte, 4096*4)
	if _, err := tg.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	for i, b := range buf {
		if b != 0xAA {
			t.Fatalf("byte %d = %x, want 0xAA", i, b)
		}
	}
}
