// Package logging configures the service's structured logger.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func toZapLevel(l string) zapcore.Level {
	levels := map[Level]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
	}
	if level, ok := levels[Level(l)]; ok {
		return level
	}
	return zapcore.InfoLevel
}

// Options configures where and how logs are written.
type Options struct {
	Stdout     bool   `yaml:"stdout"`
	Level      string `yaml:"level"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size_mb"`
	MaxAge     int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// Logger wraps a zap.SugaredLogger so call sites don't import zap directly.
type Logger struct {
	sugared *zap.SugaredLogger
}

func (l Logger) Debugf(template string, args ...any) { l.sugared.Debugf(template, args...) }
func (l Logger) Infof(template string, args ...any)  { l.sugared.Infof(template, args...) }
func (l Logger) Warnf(template string, args ...any)  { l.sugared.Warnf(template, args...) }
func (l Logger) Errorf(template string, args ...any) { l.sugared.Errorf(template, args...) }

// With returns a child logger carrying the given key/value pairs on every
// subsequent line, used to tag a request with a correlation id.
func (l Logger) With(args ...any) Logger {
	return Logger{sugared: l.sugared.With(args...)}
}

// New builds a Logger from Options.
func New(opt Options) Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	switch {
	case opt.Stdout || opt.Filename == "":
		w = zapcore.AddSync(os.Stdout)
	default:
		if err := os.MkdirAll(filepath.Dir(opt.Filename), 0o755); err != nil {
			panic(err)
		}
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  false,
		})
	}

	level := toZapLevel(opt.Level)
	core := zapcore.NewCore(encoder, w, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return Logger{sugared: logger.Sugar()}
}

var (
	stdOpt = Options{Stdout: true, Level: string(LevelInfo)}
	std    = New(stdOpt)
)

// SetOptions reconfigures the package-level default logger.
func SetOptions(opt Options) {
	stdOpt = opt
	std = New(opt)
}

// SetLevel adjusts just the level of the package-level default logger.
func SetLevel(l string) {
	stdOpt.Level = strings.ToLower(strings.TrimSpace(l))
	std = New(stdOpt)
}

func Debugf(template string, args ...any) { std.Debugf(template, args...) }
func Infof(template string, args ...any)  { std.Infof(template, args...) }
func Warnf(template string, args ...any)  { std.Warnf(template, args...) }
func Errorf(template string, args ...any) { std.Errorf(template, args...) }

// Default returns the package-level default logger.
func Default() Logger { return std }
