package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process logger. It starts as a debug console logger so that
// bootstrap code can log before configuration is loaded; Init replaces it.
var Log *zap.Logger

func init() {
	Log = zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig(true)),
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	), zap.AddCaller())
}

// Options controls the level and sinks of the process logger.
type Options struct {
	Level      string // debug | info | warn | error
	Color      bool
	File       string // empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	enc := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	if color {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return enc
}

// ParseLevel maps a config string onto a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger from opts. The console sink is always present; a
// rolling file sink (JSON) is added when opts.File is set.
func New(opts Options) *zap.Logger {
	level := ParseLevel(opts.Level)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig(opts.Color)), zapcore.AddSync(os.Stdout), level),
	}
	if opts.File != "" {
		rolling := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig(false)), zapcore.AddSync(rolling), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Init replaces the process logger.
func Init(opts Options) *zap.Logger {
	Log = New(opts)
	return Log
}

// Sync flushes buffered entries; errors from syncing stdout are ignored.
func Sync() {
	_ = Log.Sync()
}

// Error logs on the process logger, for code that runs before Init.
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
