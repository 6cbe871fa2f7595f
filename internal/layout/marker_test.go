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

package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigHashStableAcrossIdenticalParams(t *testing.T) {
	p := Params{TotalFiles: 1000, FileSize: 4096, Depth: 2, Width: 4, BlockSize: 4096}
	h1 := ComputeConfigHash(p, "", "")
	h2 := ComputeConfigHash(p, "", "")
	if h1 != h2 {
		t.Fatalf("hashes differ for identical params: %s vs %s", h1, h2)
	}
}

func TestConfigHashChangesWithFileCount(t *testing.T) {
	p1 := Params{TotalFiles: 1000, FileSize: 4096, Depth: 2, Width: 4, BlockSize: 4096}
	p2 := p1
	p2.TotalFiles = 1001
	if ComputeConfigHash(p1, "", "") == ComputeConfigHash(p2, "", "") {
		t.Fatal("expected different hash for different file count")
	}
}

func TestMarkerWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), MarkerFileName)
	m := Marker{
		ConfigHash:   "abc123",
		Created:      time.Now().UTC().Truncate(time.Second),
		FileCount:    500,
		FileSize:     4096,
		Depth:        2,
		Width:        4,
		ManifestPath: "layout.lm",
		ManifestHash: "deadbeef",
		Filled:       true,
	}
	if err := WriteMarker(path, m); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	got, err := ReadMarker(path)
	if err != nil {
		t.Fatalf("ReadMarker: %v", err)
	}
	if got.ConfigHash != m.ConfigHash || got.FileCount != m.FileCount || got.FileSize != m.FileSize ||
		got.Depth != m.Depth || got.Width != m.Width || got.ManifestPath != m.ManifestPath ||
		got.ManifestHash != m.ManifestHash || got.Filled != m.Filled {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
	if !got.Created.Equal(m.Created) {
		t.Fatalf("Created mismatch: got %v, want %v", got.Created, m.Created)
	}
}

func TestMarkerMatchesOnHashEquality(t *testing.T) {
	m := &Marker{ConfigHash: "xyz"}
	if !m.Matches("xyz") {
		t.Fatal("expected Matches to return true for equal hash")
	}
	if m.Matches("other") {
		t.Fatal("expected Matches to return false for differing hash")
	}
	var nilMarker *Marker
	if nilMarker.Matches("xyz") {
		t.Fatal("expected nil marker to never match")
	}
}

func TestReadMarkerOnMissingFileReturnsNotExist(t *testing.T) {
	_, err := ReadMarker(filepath.Join(t.TempDir(), MarkerFileName))
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist, got %v", err)
	}
}

func TestDeleteMarkerIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), MarkerFileName)
	if err := DeleteMarker(path); err != nil {
		t.Fatalf("delete on missing marker should not error: %v", err)
	}
	if err := WriteMarker(path, Marker{ConfigHash: "a"}); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	if err := DeleteMarker(path); err != nil {
		t.Fatalf("DeleteMarker: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected marker to be gone after delete")
	}
}
