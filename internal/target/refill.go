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

import "math/rand"

// Pattern fills a buffer with the configured write pattern ahead of a
// region refill or a regular write operation.
type Pattern int

const (
	PatternRandom Pattern = iota
	PatternZero
	PatternFixedByte
)

// FillBuffer writes pattern into buf. Random is the default per spec.md
// §4.6 ("fill it with the configured pattern (random unless overridden)").
func FillBuffer(buf []byte, pattern Pattern, fixedByte byte, rng *rand.Rand) {
	switch pattern {
	case PatternZero:
		for i := range buf {
			buf[i] = 0
		}
	case PatternFixedByte:
		for i := range buf {
			buf[i] = fixedByte
		}
	default:
		rng.Read(buf)
	}
}

// RefillRegion fills the [offset, offset+length) region of the target with
// pattern, writing in blockSize chunks. Dataset preparation calls it over a
// whole file's range, for files that are missing or sparse.
func (t *Target) RefillRegion(offset, length int64, blockSize int, pattern Pattern, rng *rand.Rand) error {
	buf := make([]byte, blockSize)
	for written := int64(0); written < length; written += int64(blockSize) {
		n := int64(blockSize)
		if remaining := length - written; remaining < n {
			n = remaining
		}
		FillBuffer(buf[:n], pattern, 0xAA, rng)
		if _, err := t.WriteAt(buf[:n], offset+written); err != nil {
			return err
		}
	}
	return nil
}
