// Package download — универсальный загрузчик через yt-dlp для ссылок,
// которые не взял ни один провайдер. Проверяет политику до и после
// извлечения метаданных и ограничивает число одновременных загрузок.
package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"linksave/internal/apperr"
	"linksave/internal/files"
	"linksave/internal/link"
	"linksave/internal/proc"
	"linksave/internal/provider"
)

var (
	ErrVideoNotFound = errors.New("video not found")
	ErrYtDlp         = errors.New("yt-dlp error")
	ErrEmptyPlaylist = errors.New("playlist has no entries")
)

// nsfwKeywords ищутся в названии и имени автора при BlockNSFW.
var nsfwKeywords = []string{"nsfw", "porn", "xxx", "onlyfans", "hentai", "nude", "18+"}

// Merger склеивает отдельные видео- и аудиодорожки (Reddit).
type Merger interface {
	Merge(ctx context.Context, video, audio string) (string, error)
}

type Options struct {
	YtDlpPath      string
	Proxy          string
	MaxBytes       int64
	MaxDuration    time.Duration
	MaxConcurrent  int
	BlockedDomains []string
	BlockNSFW      bool
	BlockPlaylists bool
	// ProbeTimeout ограничивает извлечение метаданных; сама загрузка не прерывается.
	ProbeTimeout time.Duration
}

// Artifact — скачанный файл. Принадлежит files.Manager, пока вызывающий не вызовет Remove.
type Artifact struct {
	LocalPath       string
	SizeBytes       int64
	DurationSeconds float64
	Title           string
	Uploader        string
	Extractor       string
	SourceURL       string
}

type Downloader struct {
	opts   Options
	run    proc.Runner
	files  *files.Manager
	client *provider.Client
	merger Merger
	slots  *semaphore.Weighted
	log    *zap.Logger

	redditBase string
}

// New — client нужен для JSON-API Reddit, merger может быть nil (тогда видео Reddit без звука).
func New(opts Options, run proc.Runner, fm *files.Manager, client *provider.Client, merger Merger, log *zap.Logger) *Downloader {
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = "yt-dlp"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Downloader{
		opts:   opts,
		run:    run,
		files:  fm,
		merger: merger,
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:    log.Named("download"),

		redditBase: redditBase,
	}
	if client != nil {
		d.client = client.For(redditPlatform)
	}
	return d
}

// Download скачивает одну цель. Порядок: домен, слот, Reddit JSON, метаданные,
// плейлист, NSFW, длительность и оценка размера, загрузка, повторная проверка размера.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Artifact, error) {
	if err := d.checkDomain(rawURL); err != nil {
		return nil, err
	}
	if !d.slots.TryAcquire(1) {
		d.log.Warn("download rejected, capacity exceeded",
			zap.String("url", rawURL),
			zap.Int("max", d.opts.MaxConcurrent),
		)
		return nil, apperr.ErrCapacityExceeded
	}
	defer d.slots.Release(1)

	if isReddit(rawURL) {
		art, err := d.reddit(ctx, rawURL)
		if err == nil {
			return art, nil
		}
		var pv *apperr.PolicyViolation
		if errors.As(err, &pv) {
			return nil, err
		}
		d.log.Info("reddit json path failed, falling back to yt-dlp", zap.String("url", rawURL), zap.Error(err))
	}

	meta, err := d.ExtractMetadata(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	target := rawURL
	if meta.IsPlaylist() {
		if d.opts.BlockPlaylists {
			return nil, &apperr.PolicyViolation{Kind: apperr.PolicyPlaylistBlocked, Actual: fmt.Sprintf("%d", len(meta.Entries))}
		}
		if len(meta.Entries) == 0 {
			return nil, ErrEmptyPlaylist
		}
		target = meta.Entries[0].Target()
		d.log.Info("playlist detected, taking first entry", zap.String("url", rawURL), zap.String("entry", target))
		if err := d.checkDomain(target); err != nil {
			return nil, err
		}
		if meta, err = d.ExtractMetadata(ctx, target); err != nil {
			return nil, err
		}
	}

	if err := d.checkNSFW(meta.Title, meta.Uploader, meta.AgeLimit >= 18); err != nil {
		return nil, err
	}
	if err := d.checkLimits(meta.Duration, meta.EstimatedSize()); err != nil {
		return nil, err
	}

	path, err := d.fetch(ctx, target, meta.Title)
	if err != nil {
		return nil, err
	}
	size, err := d.files.Validate(path, d.opts.MaxBytes)
	if err != nil {
		_ = d.files.Remove(path)
		return nil, err
	}

	d.log.Info("video downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("size", size),
		zap.String("extractor", meta.Extractor),
	)
	return &Artifact{
		LocalPath:       path,
		SizeBytes:       size,
		DurationSeconds: meta.Duration,
		Title:           meta.Title,
		Uploader:        meta.Uploader,
		Extractor:       meta.Extractor,
		SourceURL:       rawURL,
	}, nil
}

// Release удаляет файлы артефакта.
func (d *Downloader) Release(a *Artifact) error {
	if a == nil {
		return nil
	}
	return d.files.Remove(a.LocalPath)
}

func (d *Downloader) checkDomain(rawURL string) error {
	u, err := link.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrYtDlp, err)
	}
	host := link.Hostname(u)
	if link.HostInList(host, d.opts.BlockedDomains) {
		return &apperr.PolicyViolation{Kind: apperr.PolicyBlockedDomain, Actual: host}
	}
	return nil
}

func (d *Downloader) checkNSFW(title, uploader string, adult bool) error {
	if !d.opts.BlockNSFW {
		return nil
	}
	if adult {
		return &apperr.PolicyViolation{Kind: apperr.PolicyNSFW}
	}
	text := strings.ToLower(title + " " + uploader)
	for _, kw := range nsfwKeywords {
		if strings.Contains(text, kw) {
			return &apperr.PolicyViolation{Kind: apperr.PolicyNSFW}
		}
	}
	return nil
}

// checkLimits — до загрузки, по данным метаданных; нулевые оценки пропускаются.
func (d *Downloader) checkLimits(duration float64, estimated int64) error {
	if limit := d.opts.MaxDuration.Seconds(); limit > 0 && duration > limit {
		return &apperr.PolicyViolation{
			Kind:   apperr.PolicyTooLong,
			Limit:  apperr.Seconds(limit),
			Actual: apperr.Seconds(duration),
		}
	}
	if d.opts.MaxBytes > 0 && estimated > d.opts.MaxBytes {
		return &apperr.PolicyViolation{
			Kind:   apperr.PolicyTooLarge,
			Limit:  apperr.Megabytes(d.opts.MaxBytes),
			Actual: apperr.Megabytes(estimated),
		}
	}
	return nil
}
