// Package logging builds the zap loggers used across scriptbridge.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoder.
type Format string

const (
	// FormatConsole writes human-readable lines.
	FormatConsole Format = "console"
	// FormatJSON writes one JSON object per entry.
	FormatJSON Format = "json"
)

// ParseLogLevel parses a level name. Unknown names select info.
func ParseLogLevel(s string) zapcore.Level {
	switch s {
	case "debug", "DEBUG":
		return zapcore.DebugLevel
	case "info", "INFO":
		return zapcore.InfoLevel
	case "warn", "WARN", "warning", "WARNING":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ValidLevel reports whether s is a level name ParseLogLevel understands.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "DEBUG", "info", "INFO", "warn", "WARN", "warning", "WARNING", "error", "ERROR":
		return true
	}
	return false
}

// Options configures New.
type Options struct {
	// Level is the minimum level written.
	Level string
	// Format is "console" or "json". Empty selects console.
	Format Format
	// Output is where entries are written. Defaults to os.Stderr.
	Output io.Writer
	// Name is the logger name, if any.
	Name string
}

// New creates a logger writing to opts.Output.
func New(opts Options) (*zap.Logger, error) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch opts.Format {
	case FormatConsole, "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(opts.Output), ParseLogLevel(opts.Level))
	l := zap.New(core)
	if opts.Name != "" {
		l = l.Named(opts.Name)
	}
	return l, nil
}

// Must is like New but panics on error.
func Must(opts Options) *zap.Logger {
	l, err := New(opts)
	if err != nil {
		panic(err)
	}
	return l
}
