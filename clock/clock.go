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

// Package clock provides the low-overhead monotonic timestamps the worker
// hot path uses for latency measurement.
package clock

import "time"

// base anchors NowNanos to the monotonic reading taken at package init.
var base = time.Now()

// NowNanos returns a monotonic nanosecond timestamp suitable for measuring
// operation latency. It never touches wall-clock time, so NTP adjustments
// cannot introduce negative latencies.
func NowNanos() int64 {
	return int64(time.Since(base))
}

// Since returns the elapsed nanoseconds since a timestamp produced by
// NowNanos.
func Since(startNanos int64) int64 {
	return NowNanos() - startNanos
}

// WallNow returns the current wall-clock time, used only where an absolute
// timestamp must cross a process boundary (protocol handshakes, heartbeats).
func WallNow() time.Time {
	return time.Now()
}
