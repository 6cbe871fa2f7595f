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
	"testing"
	"time"
)

func TestClassifyOffsetRegimes(t *testing.T) {
	cases := []struct {
		offset time.Duration
		want   ClockRegime
	}{
		{5 * time.Millisecond, RegimeAcceptAbsolute},
		{-5 * time.Millisecond, RegimeAcceptAbsolute},
		{30 * time.Millisecond, RegimeConvert},
		{-30 * time.Millisecond, RegimeConvert},
		{60 * time.Millisecond, RegimeRefuse},
		{-60 * time.Millisecond, RegimeRefuse},
	}
	for _, tc := range cases {
		got := classifyOffset(tc.offset.Nanoseconds())
		if got != tc.want {
			t.Errorf("classifyOffset(%v) = %v, want %v", tc.offset, got, tc.want)
		}
	}
}

func TestAdjustedStartNsAddsOffset(t *testing.T) {
	offset := ClockOffset{OffsetNs: int64(20 * time.Millisecond)}
	start := int64(1_000_000_000)
	if got := offset.AdjustedStartNs(start); got != start+int64(20*time.Millisecond) {
		t.Fatalf("AdjustedStartNs = %d, want %d", got, start+int64(20*time.Millisecond))
	}
}

func TestMeasureOffsetWithinRoundTrip(t *testing.T) {
	sentAt := time.Now()
	receivedAt := sentAt.Add(10 * time.Millisecond)
	nodeTimeNs := sentAt.Add(5 * time.Millisecond).UnixNano() // matches the midpoint of the round trip exactly
	off := measureOffset(sentAt, receivedAt, nodeTimeNs)
	if off.RTTNs != int64(10*time.Millisecond) {
		t.Fatalf("RTT = %d, want %d", off.RTTNs, int64(10*time.Millisecond))
	}
	if off.Regime != RegimeAcceptAbsolute {
		t.Fatalf("regime = %v, want accept-absolute", off.Regime)
	}
}
