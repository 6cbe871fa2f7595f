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
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MarkerFileName is the sidecar file's fixed name in the target root.
const MarkerFileName = ".iopulse-layout"

// Marker is the sole O(1) proof that an expensive dataset already exists in
// the expected shape (spec.md §4.6).
type Marker struct {
	ConfigHash   string
	Created      time.Time
	FileCount    int
	FileSize     int64
	Depth        int
	Width        int
	ManifestPath string // empty if no manifest was used
	ManifestHash string // empty if no manifest was used
	Filled       bool
}

// ComputeConfigHash hashes the ordered tuple (total file count, file size,
// depth, width, manifest relative path, manifest content hash, block size)
// per spec.md §4.6. Two runs with identical inputs produce identical hashes.
func ComputeConfigHash(p Params, manifestPath, manifestHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "file_count=%d\nfile_size=%d\ndepth=%d\nwidth=%d\nmanifest_path=%s\nmanifest_hash=%s\nblock_size=%d\n",
		p.TotalFiles, p.FileSize, p.Depth, p.Width, manifestPath, manifestHash, p.BlockSize)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteMarker serializes m to the human-readable key:value format and
// writes it to path, overwriting any existing marker. Its caller is
// dataset.Prepare, which runs on the node preparing the dataset; nothing
// here restricts the marker to a single writer.
func WriteMarker(path string, m Marker) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("layout: write marker %s: %w", path, err)
	}
	defer f.Close()

	manifestPath := m.ManifestPath
	if manifestPath == "" {
		manifestPath = "(none)"
	}
	manifestHash := m.ManifestHash
	if manifestHash == "" {
		manifestHash = "(none)"
	}
	_, err = fmt.Fprintf(f,
		"# IOPulse Dataset Marker\n# Created: %s\n# ConfigHash: %s\nfile_count: %d\nfile_size: %d\ndepth: %d\nwidth: %d\nmanifest_path: %s\nmanifest_hash: %s\nfilled: %t\n",
		m.Created.UTC().Format(time.RFC3339), m.ConfigHash, m.FileCount, m.FileSize, m.Depth, m.Width, manifestPath, manifestHash, m.Filled,
	)
	if err != nil {
		return fmt.Errorf("layout: write marker %s: %w", path, err)
	}
	return nil
}

// ReadMarker parses the marker at path. Returns os.IsNotExist-compatible
// errors unchanged so callers can distinguish "absent" from "malformed".
func ReadMarker(path string) (*Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &Marker{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# Created:") {
			ts := strings.TrimSpace(strings.TrimPrefix(line, "# Created:"))
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				m.Created = t
			}
			continue
		}
		if strings.HasPrefix(line, "# ConfigHash:") {
			m.ConfigHash = strings.TrimSpace(strings.TrimPrefix(line, "# ConfigHash:"))
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "file_count":
			m.FileCount, _ = strconv.Atoi(value)
		case "file_size":
			v, _ := strconv.ParseInt(value, 10, 64)
			m.FileSize = v
		case "depth":
			m.Depth, _ = strconv.Atoi(value)
		case "width":
			m.Width, _ = strconv.Atoi(value)
		case "manifest_path":
			if value != "(none)" {
				m.ManifestPath = value
			}
		case "manifest_hash":
			if value != "(none)" {
				m.ManifestHash = value
			}
		case "filled":
			m.Filled = value == "true"
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("layout: parse marker %s: %w", path, err)
	}
	return m, nil
}

// DeleteMarker removes the marker at path. Missing markers are not an
// error, matching --force-recreate's "delete marker and dataset" which
// should be idempotent across retries.
func DeleteMarker(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("layout: delete marker %s: %w", path, err)
	}
	return nil
}

// Matches reports whether an existing marker's configuration hash agrees
// with the hash of the current run's configuration: the "O(1) proof" gate
// of spec.md §4.6's marker protocol.
func (m *Marker) Matches(configHash string) bool {
	return m != nil && m.ConfigHash == configHash
}
