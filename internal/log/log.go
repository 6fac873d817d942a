package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

var (
	mu     sync.RWMutex
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger *zap.SugaredLogger
	once   sync.Once
)

// NewLogger builds a zap logger for the given environment. "development"
// (or "dev") gets a human-readable console encoder, everything else JSON.
func NewLogger(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if isDevelopment(env) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level
	cfg.DisableStacktrace = true
	return cfg.Build(zap.AddCallerSkip(1))
}

// Init replaces the package logger with one built for env. Until Init is
// called a production logger is used. Development starts at debug level,
// every other env at info.
func Init(env string) error {
	l, err := NewLogger(env)
	if err != nil {
		return err
	}
	if isDevelopment(env) {
		SetLevel(LevelDebug)
	} else {
		SetLevel(LevelInfo)
	}
	mu.Lock()
	logger = l.Sugar()
	mu.Unlock()
	return nil
}

// Sync flushes buffered entries. Call it before exit.
func Sync() {
	_ = sugar().Sync()
}

func isDevelopment(env string) bool {
	return env == "dev" || env == "development"
}

// SetLevel changes the level of the package logger at runtime.
func SetLevel(l Level) {
	switch l {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	sugar().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	sugar().Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	sugar().Errorw(msg, extended...)
}

func sugar() *zap.SugaredLogger {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if logger != nil {
			return
		}
		l, err := NewLogger("production")
		if err != nil {
			l = zap.NewNop()
		}
		logger = l.Sugar()
	})
	mu.RLock()
	defer mu.RUnlock()
	return logger
}
