// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is a small leveled logger with printf-style helpers.
// Records are emitted through a log/slog text handler on stderr.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string (debug, info, warn, error) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

var (
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetLogLevel changes the minimum level for all subsequent records.
func SetLogLevel(l Level) {
	level.Set(l.slog())
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	current.Store(slog.New(h))
}

// Logger exposes the underlying slog logger for callers that want attributes.
func Logger() *slog.Logger {
	return current.Load()
}

func logf(l Level, format string, args ...any) {
	lg := current.Load()
	if !lg.Enabled(context.Background(), l.slog()) {
		return
	}
	lg.Log(context.Background(), l.slog(), strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func Debug(format string, args ...any) { logf(DebugLevel, format, args...) }

func Info(format string, args ...any) { logf(InfoLevel, format, args...) }

func Warn(format string, args ...any) { logf(WarnLevel, format, args...) }

func Error(format string, args ...any) { logf(ErrorLevel, format, args...) }
