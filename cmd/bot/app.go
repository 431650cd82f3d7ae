package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"linksave/internal/config"
	"linksave/internal/download"
	"linksave/internal/files"
	"linksave/internal/media"
	"linksave/internal/proc"
	"linksave/internal/provider"
	"linksave/internal/provider/bluesky"
	"linksave/internal/provider/instagram"
	"linksave/internal/provider/tiktok"
	"linksave/internal/provider/twitter"
	"linksave/internal/provider/youtube"
	"linksave/internal/resolver"
	"linksave/internal/storage"
)

// telegramMaxFileSize — лимит Telegram Bot API на отправку файла.
const telegramMaxFileSize = 50 * 1024 * 1024

// app — собранный конвейер без транспорта чата.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	client     *provider.Client
	registry   *provider.Registry
	files      *files.Manager
	videos     *storage.Store
	images     *storage.Store
	mirror     *storage.SQLStore
	optimizer  *media.Optimizer
	downloader *download.Downloader
}

func build(cfg *config.Config, log *zap.Logger) (*app, error) {
	client := provider.NewClient(provider.ClientConfig{
		Timeout:  cfg.HTTPTimeout,
		ProxyURL: cfg.Proxy,
		Retry: provider.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  2,
			MaxDelay:    30 * time.Second,
		},
	}, log)

	registry, err := provider.NewRegistry(
		twitter.New(client, cfg.TwitterAPIs, log),
		tiktok.New(client, cfg.TikTokAPIs, log),
		instagram.New(client, cfg.InstagramAPIs, log),
		bluesky.New(client, cfg.BlueskyAPI, log),
		youtube.New(client, log),
	)
	if err != nil {
		return nil, err
	}

	fm, err := files.New(cfg.TempDir, client.HTTP(), cfg.FetchTimeout, log)
	if err != nil {
		return nil, err
	}

	videos, err := storage.Open(cfg.CacheDir, storage.KindVideo, log)
	if err != nil {
		return nil, err
	}
	images, err := storage.Open(cfg.CacheDir, storage.KindImage, log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		registry: registry,
		files:    fm,
		videos:   videos,
		images:   images,
	}

	if cfg.CacheDSN != "" {
		mirror, err := storage.OpenSQL(cfg.CacheDSN, log)
		if err != nil {
			// JSON-кэш работает и без зеркала
			log.Warn("cache mirror unavailable", zap.Error(err))
		} else {
			a.mirror = mirror
			videos.WithMirror(mirror)
			images.WithMirror(mirror)
		}
	}

	runner := &proc.Exec{Log: log}
	a.optimizer = media.New(cfg.FFmpegPath, runner, log)
	a.downloader = download.New(downloadOptions(cfg), runner, fm, client, a.optimizer, log)

	return a, nil
}

func downloadOptions(cfg *config.Config) download.Options {
	return download.Options{
		YtDlpPath:      cfg.YtDlpPath,
		Proxy:          cfg.Proxy,
		MaxBytes:       cfg.MaxDownloadBytes,
		MaxDuration:    cfg.MaxDuration,
		MaxConcurrent:  cfg.MaxConcurrentDownloads,
		BlockedDomains: cfg.BlockedDomains,
		BlockNSFW:      cfg.BlockNSFW,
		BlockPlaylists: cfg.BlockPlaylists,
		ProbeTimeout:   cfg.FetchTimeout,
	}
}

// manager собирает менеджер разрешения поверх транспорта чата.
func (a *app) manager(t resolver.Transport) *resolver.Manager {
	deps := resolver.Deps{
		Providers: a.registry,
		Videos:    a.videos,
		Images:    a.images,
		Files:     a.files,
		Optimizer: a.optimizer,
		Transport: t,
	}
	if a.cfg.GenericDownloader {
		deps.Generic = a.downloader
	}
	return resolver.New(deps, resolver.Options{
		UploadLimit: min(int64(telegramMaxFileSize), a.cfg.MaxDownloadBytes),
		MaxBytes:    a.cfg.MaxDownloadBytes,
	}, a.log)
}

// cleanup — плановая уборка: старые временные файлы, записи кэшей, строки зеркала.
func (a *app) cleanup(ctx context.Context) error {
	var errs error

	swept, err := a.files.Sweep(a.cfg.TempMaxAge)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	removed := 0
	for _, s := range []*storage.Store{a.videos, a.images} {
		n, err := s.Cleanup(ctx, a.cfg.CacheMaxAge, a.cfg.CacheMaxEntries)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		removed += n
	}
	var pruned int64
	if a.mirror != nil {
		pruned, err = a.mirror.Prune(ctx, a.cfg.CacheMaxAge)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	a.log.Info("cleanup finished",
		zap.Int("temp_files", swept),
		zap.Int("cache_entries", removed),
		zap.Int64("mirror_rows", pruned),
	)
	return errs
}

// cleanupLoop выполняет cleanup раз в CleanupInterval до отмены ctx.
func (a *app) cleanupLoop(ctx context.Context) {
	if a.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.cleanup(ctx); err != nil {
				a.log.Warn("cleanup failed", zap.Error(err))
			}
		}
	}
}

func (a *app) close() {
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.log.Warn("failed to close cache mirror", zap.Error(err))
		}
	}
}
