/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger is the leveled logger shared by every shmcopy package.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a named, leveled logger. The zero value is not usable; use New or Nop.
type Logger struct {
	name  string
	sugar *zap.SugaredLogger
}

var (
	level       = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	development = false
)

func init() {
	if v := os.Getenv("SHMCOPY_LOG_LEVEL"); v != "" {
		_ = SetLevel(v)
	}
	if os.Getenv("SHMCOPY_LOG_DEV") != "" {
		development = true
	}
}

// SetLevel changes the level of every logger. The process env
// `SHMCOPY_LOG_LEVEL` sets the initial level; the default is info.
func SetLevel(l string) error {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(l))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", l, err)
	}
	level.SetLevel(lv)
	return nil
}

// SetDevelopment toggles colored console output with stack traces on errors.
func SetDevelopment(dev bool) {
	development = dev
}

// Enabled reports whether messages at l would be written.
func Enabled(l zapcore.Level) bool {
	return level.Enabled(l)
}

// New creates a logger named name writing to out (stdout when nil).
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999")
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	opts := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), level)
	l := zap.New(core, opts...)
	if name != "" {
		l = l.Named(name)
	}
	return &Logger{name: name, sugar: l.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// Named returns a child logger with name appended.
func (l *Logger) Named(name string) *Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &Logger{name: full, sugar: l.sugar.Named(name)}
}

// With returns a child logger carrying the key/value pairs on every line.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{name: l.name, sugar: l.sugar.With(kv...)}
}

func (l *Logger) Errorf(format string, a ...any) { l.sugar.Errorf(format, a...) }

func (l *Logger) Error(v any) { l.sugar.Error(v) }

func (l *Logger) Warnf(format string, a ...any) { l.sugar.Warnf(format, a...) }

func (l *Logger) Infof(format string, a ...any) { l.sugar.Infof(format, a...) }

func (l *Logger) Info(v any) { l.sugar.Info(v) }

func (l *Logger) Debugf(format string, a ...any) { l.sugar.Debugf(format, a...) }

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
