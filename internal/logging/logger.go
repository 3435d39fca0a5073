// Package logging holds the process-wide zap logger used by every package of
// the edge.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var global atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	global.Store(l)
}

// Options configures the logger built by New.
type Options struct {
	Level string
	// Format is "json" (default) or "console".
	Format string
	// Output is "stdout", "stderr" or a file path. File output is rotated.
	Output   string
	Rotation Rotation
	// Fields are attached to every entry, e.g. the build version.
	Fields []zap.Field
}

// Rotation holds lumberjack settings for file output.
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	LocalTime  bool
}

// ParseLevel maps a level name to a zap level; unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New builds a logger. Entries at error level and above carry a stack trace.
func New(opts Options) (*zap.Logger, error) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch opts.Format {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(enc)
	case "console":
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	core := zapcore.NewCore(encoder, sink(opts), ParseLevel(opts.Level))
	return zap.New(core,
		zap.AddCaller(),
		// callers go through the package-level helpers below
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(opts.Fields...),
	), nil
}

func sink(opts Options) zapcore.WriteSyncer {
	switch opts.Output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    opts.Rotation.MaxSize,
		MaxBackups: opts.Rotation.MaxBackups,
		MaxAge:     opts.Rotation.MaxAge,
		Compress:   opts.Rotation.Compress,
		LocalTime:  opts.Rotation.LocalTime,
	})
}

// Global returns the process logger.
func Global() *zap.Logger { return global.Load() }

// SetGlobal replaces the process logger.
func SetGlobal(l *zap.Logger) { global.Store(l) }

func Info(msg string, fields ...zap.Field)  { Global().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Global().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Global().Error(msg, fields...) }
func Debug(msg string, fields ...zap.Field) { Global().Debug(msg, fields...) }

// Sync flushes buffered entries; call it before exit.
func Sync() {
	_ = Global().Sync()
}
