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

// Package obslog is the process-wide structured logger. It replaces the
// direct fmt.Printf/log.Fatalf calls the demo CLI used with zerolog,
// switching to a human-readable console writer only when attached to a
// terminal (the same TTY heuristic the churn exporter used for its ANSI
// live view).
package obslog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	base = zerolog.New(defaultWriter()).With().Timestamp().Logger()
}

// defaultWriter picks a human-readable console writer when stderr is a
// terminal, and plain JSON (zerolog's native encoding, undecorated) otherwise
// — the shape a log-aggregation pipeline expects from a non-interactive run.
func defaultWriter() io.Writer {
	if detectTTY() {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	return os.Stderr
}

// detectTTY decides whether ANSI rendering is worthwhile: false when
// TERM=dumb, otherwise true only if stderr is a character device.
func detectTTY() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	if fi, err := os.Stderr.Stat(); err == nil {
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// For returns a logger scoped to a component name, e.g. For("worker") or
// For("coordinator").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// SetLevel adjusts the global minimum log level (defaults to zerolog.InfoLevel).
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
