// Package media — пережатие и склейка видео через ffmpeg.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"linksave/internal/proc"
)

var ErrNotSmaller = errors.New("optimized file is not smaller")

const (
	MaxWidth = 1280
	CRF      = 28
)

type Optimizer struct {
	ffmpeg string
	run    proc.Runner
	log    *zap.Logger
}

func New(ffmpegPath string, run proc.Runner, log *zap.Logger) *Optimizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Optimizer{ffmpeg: ffmpegPath, run: run, log: log}
}

// Optimize пережимает видео в H.264 не шире MaxWidth с faststart.
// При любой ошибке возвращает исходный путь вместе с ошибкой; исходник не трогается.
func (o *Optimizer) Optimize(ctx context.Context, in string) (string, error) {
	out := sibling(in, "opt.mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", MaxWidth),
		"-c:v", "libx264", "-preset", "veryfast", "-crf", strconv.Itoa(CRF),
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out,
	}
	if _, err := o.run.Run(ctx, o.ffmpeg, args...); err != nil {
		_ = os.Remove(out)
		return in, fmt.Errorf("ffmpeg optimize: %w", err)
	}

	before, err := size(in)
	if err != nil {
		return in, err
	}
	after, err := size(out)
	if err != nil {
		return in, fmt.Errorf("ffmpeg optimize: %w", err)
	}
	if after >= before {
		_ = os.Remove(out)
		return in, ErrNotSmaller
	}

	o.log.Info("video optimized",
		zap.String("path", out),
		zap.Int64("before", before),
		zap.Int64("after", after),
	)
	return out, nil
}

// Merge склеивает видео- и аудиодорожку без перекодирования.
func (o *Optimizer) Merge(ctx context.Context, video, audio string) (string, error) {
	out := sibling(video, "merged.mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", video, "-i", audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-c", "copy", "-shortest",
		"-movflags", "+faststart",
		out,
	}
	if _, err := o.run.Run(ctx, o.ffmpeg, args...); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("ffmpeg merge: %w", err)
	}
	if _, err := size(out); err != nil {
		return "", fmt.Errorf("ffmpeg merge: %w", err)
	}
	return out, nil
}

// sibling — файл с тем же базовым именем (до первой точки) и суффиксом suffix,
// чтобы files.Manager.Remove удалил его вместе с исходником.
func sibling(path, suffix string) string {
	dir, name := filepath.Split(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return filepath.Join(dir, name+"."+suffix)
}

func size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%s is empty", path)
	}
	return info.Size(), nil
}
