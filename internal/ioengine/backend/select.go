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

// Kind names the four backends a Worker can be configured with.
type Kind string

const (
	KindSync  Kind = "sync"
	KindUring Kind = "uring"
	KindAIO   Kind = "aio"
	KindMmap  Kind = "mmap"
)

// Select constructs the requested backend, silently substituting Sync for
// any asynchronous backend at queue depth 1: the async overhead has no
// payoff there (spec.md §4.1). Select returns the Kind actually
// constructed so callers can surface the substitution via Capabilities()
// or an equivalent side-channel, per spec.md §8's boundary-behavior test.
func Select(kind Kind, queueDepth int) (Backend, Kind) {
	if queueDepth <= 1 && (kind == KindUring || kind == KindAIO) {
		return NewSync(), KindSync
	}
	switch kind {
	case KindUring:
		return NewUring(), KindUring
	case KindAIO:
		return NewAIO(), KindAIO
	case KindMmap:
		return NewMmap(), KindMmap
	default:
		return NewSync(), KindSync
	}
}
