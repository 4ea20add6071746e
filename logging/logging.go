// Package logging builds the *zap.Logger every cmd entrypoint and
// connection passes down as its logger of record, with optional file
// rotation via lumberjack.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the logger. An empty Filename logs to stdout.
type Options struct {
	Level      zapcore.Level
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions logs info-and-above to stdout.
func DefaultOptions() Options {
	return Options{Level: zapcore.InfoLevel}
}

// New builds a logger per opt. When Filename is set, log lines rotate
// through lumberjack instead of growing one file forever; this is the
// only place in the module a log file is written, so rotation is
// opt-in rather than assumed.
func New(opt Options) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	if opt.Filename == "" {
		w = zapcore.AddSync(os.Stdout)
	} else {
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSizeMB,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAgeDays,
			LocalTime:  true,
		})
	}

	core := zapcore.NewCore(encoder, w, opt.Level)
	return zap.New(core, zap.AddCaller())
}
