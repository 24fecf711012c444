// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide zerolog logger. Run-scoped loggers
// travel in the context; see Ctx and WithLogger.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats accepted by SetFormat.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type loggerKey struct{}

var (
	globalLogger zerolog.Logger
	fields       func(zerolog.Context) zerolog.Context
)

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		panic(err)
	}

	pname, err := os.Executable()
	if err != nil {
		panic(err)
	}

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	fields = func(c zerolog.Context) zerolog.Context {
		return c.
			Str("service", "dirsync").
			Str("hostname", hostname).
			Str("executable", filepath.Base(pname)).
			Stack().
			Caller()
	}

	level := zerolog.InfoLevel
	var levelErr error
	if v := envValue("DIRSYNC_LOG_LEVEL", "LOG_LEVEL"); v != "" {
		level, levelErr = zerolog.ParseLevel(v)
		if levelErr != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
			levelErr = fmt.Errorf("invalid log level %q", v)
		}
	}

	setOutput(writerFor(envValue("DIRSYNC_LOG_FORMAT"), os.Stderr), level)
	if levelErr != nil {
		globalLogger.Warn().Err(levelErr).Msg("defaulting to INFO")
	}
}

func envValue(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func writerFor(format string, w io.Writer) io.Writer {
	if strings.EqualFold(format, FormatConsole) {
		return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return w
}

func setOutput(w io.Writer, level zerolog.Level) {
	globalLogger = fields(zerolog.New(w).With().Timestamp()).Logger().Level(level)
	log.Logger = globalLogger
}

// SetFormat switches the global logger between JSON lines and human
// readable console output on stderr.
func SetFormat(format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	setOutput(writerFor(format, os.Stderr), globalLogger.GetLevel())
	return nil
}

// SetOutput redirects the global logger to w in JSON form.
func SetOutput(w io.Writer) {
	setOutput(w, globalLogger.GetLevel())
}

// Ctx returns the logger stored in ctx, or the global logger.
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &globalLogger
	}
	if l, ok := ctx.Value(loggerKey{}).(*zerolog.Logger); ok && l != nil {
		return l
	}
	return &globalLogger
}

func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetLevel updates the global log level
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return globalLogger.Fatal()
}

// Error logs an error message
func Error() *zerolog.Event {
	return globalLogger.Error()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return globalLogger.Warn()
}

// Info logs an info message
func Info() *zerolog.Event {
	return globalLogger.Info()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return globalLogger.Debug()
}
