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

package buffer

import "testing"

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, err := NewPool(4, 4096, 4096)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if got := p.Available(); got != 4 {
		t.Fatalf("Available() = %d, want 4", got)
	}
	slot, buf, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire() failed on fresh pool")
	}
	if len(buf) != 4096 {
		t.Fatalf("buffer len = %d, want 4096", len(buf))
	}
	p.Release(slot)
	if got := p.Available(); got != 4 {
		t.Fatalf("Available() after release = %d, want 4", got)
	}
}

func TestAcquireExhaustion(t *testing.T) {
	p, err := NewPool(2, 512, 512)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	_, _, ok1 := p.Acquire()
	_, _, ok2 := p.Acquire()
	_, _, ok3 := p.Acquire()
	if !ok1 || !ok2 {
		t.Fatal("expected first two acquires to succeed")
	}
	if ok3 {
		t.Fatal("expected third acquire to fail on an exhausted 2-slot pool")
	}
}

func TestRejectsMisalignedBlockSize(t *testing.T) {
	if _, err := NewPool(1, 500, 512); err == nil {
		t.Fatal("expected error for blockSize not a multiple of alignment")
	}
}
