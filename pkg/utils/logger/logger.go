// Package logger is the structured-logging wrapper every other package
// in this module calls into: Infof/Debugf/Warnf/Errorf helpers over a
// replaceable default logger, with size- or time-based rotation built
// on zap, lumberjack and file-rotatelogs.
package logger

import (
	"os"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a zap log level, re-exported so callers do not need to
// import zapcore directly.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	atomicLevel = zap.NewAtomicLevelAt(InfoLevel)

	mu      sync.RWMutex
	current = New(zapcore.AddSync(os.Stdout), InfoLevel)
)

// New builds a SugaredLogger writing JSON-encoded entries to ws,
// gated by the package's shared level (SetLevel affects every logger
// built this way, including the default one).
func New(ws zapcore.WriteSyncer, lvl Level) *zap.SugaredLogger {
	atomicLevel.SetLevel(lvl)
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(cfg)
	core := zapcore.NewCore(encoder, ws, atomicLevel)
	return zap.New(core, zap.AddCaller()).Sugar()
}

// NewProductionRotateBySize returns a write syncer that rotates path
// once it exceeds a fixed size, keeping a bounded number of compressed
// backups (gopkg.in/natefinch/lumberjack.v2).
func NewProductionRotateBySize(path string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	})
}

// NewProductionRotateByTime returns a write syncer that rotates path
// daily, keeping 30 days of history (github.com/lestrrat-go/file-rotatelogs).
func NewProductionRotateByTime(path string) zapcore.WriteSyncer {
	w, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(30*24*time.Hour),
	)
	if err != nil {
		panic(err)
	}
	return zapcore.AddSync(w)
}

// ReplaceDefault swaps the logger package-level functions delegate to.
func ReplaceDefault(l *zap.SugaredLogger) {
	mu.Lock()
	defer mu.Unlock()
	current = l
}

// SetLevel adjusts the shared atomic level used by every logger built
// with New (and therefore by the default logger too).
func SetLevel(lvl Level) {
	atomicLevel.SetLevel(lvl)
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return current.Sync()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

func Debug(args ...interface{}) { get().Debug(args...) }
func Info(args ...interface{})  { get().Info(args...) }
func Warn(args ...interface{})  { get().Warn(args...) }
func Error(args ...interface{}) { get().Error(args...) }
