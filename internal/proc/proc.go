// Package proc запускает внешние утилиты (yt-dlp, ffmpeg).
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner запускает процесс и возвращает его stdout.
// В тестах подменяется фейком, который пишет файлы сам.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Error — процесс завершился с ошибкой; Stderr обрезан до хвоста.
type Error struct {
	Name   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Err }

const stderrTail = 2048

// Exec — Runner поверх os/exec.
type Exec struct {
	Log *zap.Logger
}

func (x Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log := x.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Debug("running external tool", zap.String("name", name), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		log.Warn("external tool failed",
			zap.String("name", name),
			zap.Error(err),
			zap.String("stderr", tail),
		)
		return stdout.Bytes(), &Error{Name: name, Stderr: tail, Err: err}
	}
	return stdout.Bytes(), nil
}
