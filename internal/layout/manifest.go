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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ManifestExtensions lists the accepted manifest file extensions, both
// treated identically per spec.md §6.
var ManifestExtensions = []string{".layout_manifest", ".lm"}

// HasManifestExtension reports whether path ends in an accepted manifest
// extension.
func HasManifestExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range ManifestExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ExportManifest writes paths to w in the documented line-oriented format: a
// commented header followed by one relative path per line.
func ExportManifest(w io.Writer, p Params, paths []string) error {
	header := fmt.Sprintf(
		"# IOPulse Layout Manifest\n# Generated: %s\n# Parameters: depth=%d, width=%d, total_files=%d\n# Total files: %d\n# Total directories: %d\n#\n",
		time.Now().UTC().Format(time.RFC3339), p.Depth, p.Width, p.TotalFiles, len(paths), DirCount(p),
	)
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("layout: write manifest header: %w", err)
	}
	bw := bufio.NewWriter(w)
	for _, path := range paths {
		if _, err := bw.WriteString(path); err != nil {
			return fmt.Errorf("layout: write manifest entry %q: %w", path, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ImportManifest parses the line-oriented manifest format: blank lines and
// "#"-prefixed comment lines are ignored, everything else is a relative
// path, in file order.
func ImportManifest(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var paths []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		paths = append(paths, trimmed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("layout: parse manifest: %w", err)
	}
	return paths, nil
}

// ExportManifestFile writes the manifest for paths to a file at path.
func ExportManifestFile(path string, p Params, paths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("layout: create manifest %s: %w", path, err)
	}
	defer f.Close()
	return ExportManifest(f, p, paths)
}

// ImportManifestFile reads and parses the manifest at path.
func ImportManifestFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layout: open manifest %s: %w", path, err)
	}
	defer f.Close()
	return ImportManifest(f)
}

// ManifestContentHash returns a stable hex-encoded hash of a manifest file's
// contents, used as one input to the dataset marker's configuration hash.
func ManifestContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("layout: hash manifest %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("layout: hash manifest %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
