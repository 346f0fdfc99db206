// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
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

package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a case-insensitive level string into a slog.Level.
// Unrecognized values fall back to slog.LevelInfo.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "INFO", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// levelFromEnv resolves the LOG_LEVEL environment variable, defaulting to INFO.
func levelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// NewStructuredLogger returns a JSON slog.Logger writing to stderr, tagged
// with the given module/version and the level parsed from the level string.
func NewStructuredLogger(module, version, level string) *slog.Logger {
	return newStructuredLogger(module, version, ParseLevel(level))
}

func newStructuredLogger(module, version string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return slog.New(handler).With(
		slog.String("module", module),
		slog.String("version", version),
	)
}

// SetDefaultStructuredLogger installs a JSON structured logger as the slog
// default, with the level taken from the LOG_LEVEL environment variable.
func SetDefaultStructuredLogger(module, version string) {
	slog.SetDefault(newStructuredLogger(module, version, levelFromEnv()))
}

// SetDefaultStructuredLoggerWithLevel installs a JSON structured logger as
// the slog default with an explicit level, overriding LOG_LEVEL.
func SetDefaultStructuredLoggerWithLevel(module, version, level string) {
	slog.SetDefault(newStructuredLogger(module, version, ParseLevel(level)))
}

// NewLogLogger adapts slog to the standard library's log.Logger, useful for
// passing to APIs (such as http.Server.ErrorLog) that require one.
func NewLogLogger(level slog.Level, json bool) *log.Logger {
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.NewLogLogger(handler, level)
}
