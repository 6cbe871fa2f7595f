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

package obslog

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestForAttachesComponentField(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf).With().Logger()
	saved := base
	base = logger
	t.Cleanup(func() { base = saved })

	For("worker").Info().Msg("started")

	out := buf.String()
	if !strings.Contains(out, `"component":"worker"`) {
		t.Fatalf("expected component field in log line, got: %s", out)
	}
	if !strings.Contains(out, `"message":"started"`) {
		t.Fatalf("expected message field in log line, got: %s", out)
	}
}

func TestDetectTTYFalseForDumbTerm(t *testing.T) {
	t.Setenv("TERM", "dumb")
	if detectTTY() {
		t.Fatal("expected detectTTY() false when TERM=dumb")
	}
}

func TestSetLevelDoesNotPanic(t *testing.T) {
	SetLevel(zerolog.DebugLevel)
	SetLevel(zerolog.InfoLevel)
}
