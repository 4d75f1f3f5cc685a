package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger.
//
// Development mode logs at debug level with a colored console encoder;
// production logs at info level as JSON. Both modes additionally write
// JSON to a rotated file at logFilePath. The level can be overridden
// with the SD_LOG_LEVEL environment variable.
func New(development bool, logFilePath string) *zap.Logger {
	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}
	level = parseLevel(os.Getenv("SD_LOG_LEVEL"), level)

	return zap.New(
		newTeeCore(level, logFilePath, development, zapcore.Lock(os.Stdout)),
		zap.AddCaller(),
	)
}

// NewWithWriter builds a logger writing console output to the given
// syncer instead of stdout. Used by tests to capture output.
func NewWithWriter(development bool, logFilePath string, console zapcore.WriteSyncer) *zap.Logger {
	level := zapcore.InfoLevel
	if development {
		level = zapcore.DebugLevel
	}
	return zap.New(newTeeCore(level, logFilePath, development, console))
}

// newTeeCore tees a console core and a rotated-file core. The file
// side always encodes JSON; the console side is human-readable in
// development mode.
func newTeeCore(level zapcore.Level, logFilePath string, development bool, console zapcore.WriteSyncer) zapcore.Core {
	var consoleEncoder zapcore.Encoder
	if development {
		consoleEncoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(NewJSONEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, console, level)

	if logFilePath == "" {
		return consoleCore
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewJSONEncoderConfig()),
		NewFileWriter(logFilePath, DefaultRotationConfig()),
		level,
	)
	return zapcore.NewTee(consoleCore, fileCore)
}

// parseLevel maps a level string to a zapcore.Level, case-insensitive.
// Unknown or empty strings return the fallback.
// This is a pure function with no side effects.
func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return fallback
	}
}
