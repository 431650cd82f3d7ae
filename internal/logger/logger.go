package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log      *zap.Logger
	initOnce sync.Once
)

// Init строит глобальный логгер один раз за процесс.
// development=true — консольный вывод с цветными уровнями, иначе JSON.
func Init(development bool) error {
	var err error
	initOnce.Do(func() {
		log, err = Build(development)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			return
		}
		log.Info("logger initialized", zap.Bool("development", development))
	})
	return err
}

// Build создаёт новый логгер без регистрации глобально.
func Build(development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func L() *zap.Logger {
	if log == nil {
		panic("logger not initialized")
	}
	return log
}

// OrNop возвращает переданный логгер либо no-op, если он nil.
// Конструкторы компонентов принимают nil в тестах.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
