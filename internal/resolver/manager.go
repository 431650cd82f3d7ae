// Package resolver — менеджер разрешения ссылок: кэш доставки, провайдер платформы,
// универсальный загрузчик и отправка результата в чат.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/download"
	"linksave/internal/files"
	"linksave/internal/keylock"
	"linksave/internal/link"
	"linksave/internal/logger"
	"linksave/internal/post"
	"linksave/internal/provider"
	"linksave/internal/storage"
)

// GroupLimit — максимум элементов в одном медиа-альбоме.
const GroupLimit = 10

// Providers — выбор провайдера по ссылке (*provider.Registry).
type Providers interface {
	For(rawURL string) (provider.Provider, bool)
}

// Downloader — универсальный загрузчик (*download.Downloader).
type Downloader interface {
	Download(ctx context.Context, rawURL string) (*download.Artifact, error)
	Release(a *download.Artifact) error
}

// Optimizer пережимает крупное видео (*media.Optimizer).
type Optimizer interface {
	Optimize(ctx context.Context, path string) (string, error)
}

type Stage string

const (
	StageCache    Stage = "cache"
	StageProvider Stage = "provider"
	StageGeneric  Stage = "generic"
)

// Outcome — итог обработки одной ссылки.
type Outcome struct {
	URL      string
	Platform post.Platform
	Stage    Stage
	Locators []Locator
	// Degraded — медиа не ушло, пользователь получил текст со ссылкой.
	Degraded bool
	Err      error
}

type Options struct {
	// UploadLimit — предел файла, отправляемого транспортом с диска.
	UploadLimit int64
	// MaxBytes — предел скачивания медиа по HTTP.
	MaxBytes int64
}

// Deps — зависимости менеджера. Nil в Generic, Images, Optimizer отключает соответствующий шаг.
type Deps struct {
	Providers Providers
	Generic   Downloader
	Videos    *storage.Store
	Images    *storage.Store
	Files     *files.Manager
	Optimizer Optimizer
	Transport Transport
}

type Manager struct {
	providers Providers
	generic   Downloader
	videos    *storage.Store
	images    *storage.Store
	files     *files.Manager
	optimizer Optimizer
	transport Transport
	opts      Options
	locks     *keylock.Map
	log       *zap.Logger
}

func New(deps Deps, opts Options, log *zap.Logger) *Manager {
	if opts.UploadLimit <= 0 {
		opts.UploadLimit = 50 << 20
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = opts.UploadLimit
	}
	return &Manager{
		providers: deps.Providers,
		generic:   deps.Generic,
		videos:    deps.Videos,
		images:    deps.Images,
		files:     deps.Files,
		optimizer: deps.Optimizer,
		transport: deps.Transport,
		opts:      opts,
		locks:     keylock.New(),
		log:       logger.OrNop(log).Named("resolver"),
	}
}

// Stats — статистика кэшей для /stats.
func (m *Manager) Stats() []storage.Stats {
	var out []storage.Stats
	for _, s := range []*storage.Store{m.videos, m.images} {
		if s != nil {
			out = append(out, s.Stats())
		}
	}
	return out
}

// HandleText обрабатывает все ссылки из сообщения по очереди. Ошибка одной ссылки
// не прерывает остальные: пользователь получает сообщение об отказе и идём дальше.
func (m *Manager) HandleText(ctx context.Context, chatID int64, text string) []Outcome {
	urls := link.ExtractURLs(text)
	if len(urls) == 0 {
		return nil
	}

	status, err := m.transport.SendText(ctx, chatID, "⏳ Обрабатываю ссылку...")
	hasStatus := err == nil
	if err != nil {
		m.log.Warn("status message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	outcomes := make([]Outcome, 0, len(urls))
	for i, u := range urls {
		if hasStatus && len(urls) > 1 {
			if err := m.transport.Edit(ctx, status, fmt.Sprintf("⏳ Обрабатываю ссылки: %d/%d", i+1, len(urls))); err != nil {
				m.log.Debug("status edit failed", zap.Error(err))
			}
		}
		out := m.safeHandle(ctx, chatID, u)
		if out.Err != nil {
			m.notify(ctx, chatID, out)
		}
		outcomes = append(outcomes, out)
	}

	if hasStatus {
		if err := m.transport.Delete(ctx, status); err != nil {
			m.log.Debug("status delete failed", zap.Error(err))
		}
	}
	return outcomes
}

func (m *Manager) safeHandle(ctx context.Context, chatID int64, rawURL string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic while handling url", zap.Any("recover", r), zap.String("url", rawURL))
			out = Outcome{URL: rawURL, Platform: post.PlatformGeneric, Err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	return m.Handle(ctx, chatID, rawURL)
}

func (m *Manager) notify(ctx context.Context, chatID int64, out Outcome) {
	label := ""
	if out.Platform != "" {
		label = out.Platform.Label()
	}
	if _, err := m.transport.SendText(ctx, chatID, apperr.UserMessage(label, out.Err)); err != nil {
		m.log.Warn("failure notice not delivered", zap.String("url", out.URL), zap.Error(err))
	}
}

// Handle проводит одну ссылку через кэш, провайдер и универсальный загрузчик.
// Обработка одного URL сериализуется: повторная ссылка ждёт первую и попадает в кэш.
func (m *Manager) Handle(ctx context.Context, chatID int64, rawURL string) Outcome {
	unlock := m.locks.Lock(storage.Key(rawURL))
	defer unlock()

	platform, known := link.Classify(rawURL)
	if !known {
		platform = post.PlatformGeneric
	}
	out := Outcome{URL: rawURL, Platform: platform}
	log := m.log.With(zap.String("url", rawURL), zap.String("platform", string(platform)))

	if locs, ok := m.fromCache(ctx, chatID, rawURL); ok {
		log.Info("delivered from cache")
		out.Stage, out.Locators = StageCache, locs
		return out
	}

	var providerErr error
	if p, ok := m.providers.For(rawURL); ok {
		out.Stage = StageProvider
		res, err := p.Resolve(ctx, rawURL)
		if err == nil {
			log.Info("post resolved",
				zap.String("author", res.Author),
				zap.Int("media", len(res.MediaItems)),
			)
			return m.deliverPost(ctx, chatID, rawURL, p.Canonicalize(rawURL), res, out)
		}
		providerErr = err
		log.Warn("provider failed", zap.Error(err))
	} else if known {
		providerErr = fmt.Errorf("%w: %s", link.ErrUnknownPlatform, platform)
	}

	if m.generic == nil {
		if providerErr == nil || errors.Is(providerErr, link.ErrUnknownPlatform) {
			providerErr = apperr.ErrUnsupported
		}
		out.Err = providerErr
		return out
	}

	out.Stage = StageGeneric
	log = log.With(zap.Bool("known_extractor", link.IsLikelyDownloadable(rawURL)))
	art, err := m.generic.Download(ctx, rawURL)
	if err != nil {
		log.Warn("generic download failed", zap.Error(err))
		out.Err = pickError(providerErr, err)
		return out
	}
	if art.Extractor != "" && !known {
		log = log.With(zap.String("extractor", art.Extractor))
	}
	log.Info("generic download ready", zap.String("path", art.LocalPath), zap.Int64("size", art.SizeBytes))

	caption := ArtifactCaption(art, platform, rawURL)
	return m.deliverArtifact(ctx, chatID, rawURL, art, caption, out)
}

// pickError выбирает, что показать пользователю, когда не сработали оба пути.
// Отказ загрузчика по лимитам точнее описывает ситуацию, чем ошибка провайдера.
func pickError(providerErr, genericErr error) error {
	var pv *apperr.PolicyViolation
	if providerErr == nil || errors.As(genericErr, &pv) || errors.Is(genericErr, apperr.ErrCapacityExceeded) {
		return genericErr
	}
	if errors.Is(providerErr, link.ErrUnknownPlatform) {
		return genericErr
	}
	return providerErr
}

// fromCache пересылает ранее отправленное сообщение. Пропавшее сообщение удаляет запись.
func (m *Manager) fromCache(ctx context.Context, chatID int64, rawURL string) ([]Locator, bool) {
	if m.videos == nil {
		return nil, false
	}
	e, ok := m.videos.Get(ctx, rawURL)
	if !ok {
		return nil, false
	}
	from, err := ParseLocator(e.Locator)
	if err == nil {
		loc, cerr := m.transport.Copy(ctx, from, chatID)
		if cerr == nil {
			return []Locator{loc}, true
		}
		err = cerr
	}
	m.log.Info("cached delivery is stale, evicting", zap.String("url", rawURL), zap.Error(err))
	if err := m.videos.Evict(ctx, rawURL); err != nil {
		m.log.Warn("cache evict failed", zap.Error(err))
	}
	return nil, false
}

func (m *Manager) deliverPost(ctx context.Context, chatID int64, rawURL, canonical string, p *post.Post, out Outcome) Outcome {
	caption := Caption(p, canonical)

	primary := p.Primary()
	switch {
	case primary == nil:
		loc, err := m.transport.SendText(ctx, chatID, truncate(caption, TextLimit))
		if err != nil {
			out.Err = &apperr.DeliveryFailure{Err: err}
			return out
		}
		out.Locators = []Locator{loc}
		return out

	case len(p.MediaItems) == 1 && isStream(primary):
		return m.deliverStream(ctx, chatID, rawURL, p, caption, out)

	case len(p.MediaItems) == 1 && p.HasVideo():
		loc, err := m.sendVideo(ctx, chatID, *primary, p.TextContent, caption)
		if err != nil {
			return m.degrade(ctx, chatID, caption, err, out)
		}
		out.Locators = []Locator{loc}
		m.remember(ctx, rawURL, loc, storage.Entry{
			Platform:        string(p.Platform),
			Title:           truncate(p.TextContent, 100),
			Author:          p.Author,
			DurationSeconds: primary.DurationSeconds,
		})
		return out
	}

	locs, err := m.sendItems(ctx, chatID, p, caption)
	if err != nil {
		return m.degrade(ctx, chatID, caption, err, out)
	}
	out.Locators = locs
	return out
}

// deliverStream — видео отдано плейлистом (HLS): его собирает универсальный загрузчик.
func (m *Manager) deliverStream(ctx context.Context, chatID int64, rawURL string, p *post.Post, caption string, out Outcome) Outcome {
	if m.generic == nil {
		return m.degrade(ctx, chatID, caption, apperr.ErrUnsupported, out)
	}
	art, err := m.generic.Download(ctx, p.Primary().URL)
	if err != nil {
		var pv *apperr.PolicyViolation
		if errors.As(err, &pv) || errors.Is(err, apperr.ErrCapacityExceeded) {
			out.Err = err
			return out
		}
		return m.degrade(ctx, chatID, caption, err, out)
	}
	if art.Title == "" {
		art.Title = truncate(p.TextContent, 100)
	}
	if art.Uploader == "" {
		art.Uploader = p.Author
	}
	return m.deliverArtifact(ctx, chatID, rawURL, art, caption, out)
}

// deliverArtifact отправляет файл загрузчика и удаляет его после отправки.
func (m *Manager) deliverArtifact(ctx context.Context, chatID int64, rawURL string, art *download.Artifact, caption string, out Outcome) Outcome {
	defer func() {
		if err := m.generic.Release(art); err != nil {
			m.log.Warn("artifact cleanup failed", zap.String("path", art.LocalPath), zap.Error(err))
		}
	}()

	path, size := art.LocalPath, art.SizeBytes
	if m.optimizer != nil && size > m.opts.UploadLimit/2 {
		opt, err := m.optimizer.Optimize(ctx, path)
		if err != nil {
			m.log.Info("optimization skipped", zap.String("path", path), zap.Error(err))
		} else {
			path = opt
		}
	}
	if m.files != nil {
		n, err := m.files.Validate(path, m.opts.UploadLimit)
		if err != nil {
			out.Err = err
			return out
		}
		size = n
	}

	loc, err := m.transport.SendMedia(ctx, chatID, Media{
		Kind:     post.KindVideo,
		Path:     path,
		Caption:  caption,
		Duration: int(art.DurationSeconds),
	})
	if err != nil {
		return m.degrade(ctx, chatID, caption, err, out)
	}
	out.Locators = []Locator{loc}
	m.remember(ctx, rawURL, loc, storage.Entry{
		Platform:        string(out.Platform),
		Title:           art.Title,
		Author:          art.Uploader,
		DurationSeconds: post.Seconds(art.DurationSeconds),
		FileSizeBytes:   size,
	})
	return out
}

// sendVideo отдаёт видео по URL, а если транспорт не смог его забрать — скачивает сами.
func (m *Manager) sendVideo(ctx context.Context, chatID int64, item post.MediaItem, title, caption string) (Locator, error) {
	media := Media{
		Kind:     item.Kind,
		URL:      item.URL,
		Thumb:    item.ThumbnailURL,
		Caption:  caption,
		Duration: duration(item.DurationSeconds),
	}
	loc, err := m.transport.SendMedia(ctx, chatID, media)
	if err == nil || m.files == nil {
		return loc, err
	}
	m.log.Info("send by url failed, uploading file", zap.String("media", item.URL), zap.Error(err))

	path, ferr := m.files.Fetch(ctx, item.URL, title, m.opts.UploadLimit)
	if ferr != nil {
		return Locator{}, multierror.Append(err, ferr)
	}
	defer func() { _ = m.files.Remove(path) }()

	media.URL, media.Path = "", path
	loc, err = m.transport.SendMedia(ctx, chatID, media)
	if err != nil {
		return Locator{}, err
	}
	return loc, nil
}

// sendItems отправляет картинки и смешанные посты альбомами по GroupLimit.
// Подпись ставится на первый элемент первого альбома.
func (m *Manager) sendItems(ctx context.Context, chatID int64, p *post.Post, caption string) ([]Locator, error) {
	items := make([]Media, 0, len(p.MediaItems))
	for _, it := range p.MediaItems {
		media := Media{
			Kind:     it.Kind,
			URL:      it.URL,
			Thumb:    it.ThumbnailURL,
			Duration: duration(it.DurationSeconds),
		}
		if it.Kind == post.KindImage {
			path, ok, err := m.localImage(ctx, it.URL, p)
			if err != nil {
				return nil, err
			}
			if ok {
				media.URL, media.Path = "", path
			}
		}
		items = append(items, media)
	}
	items[0].Caption = caption

	if len(items) == 1 {
		loc, err := m.transport.SendMedia(ctx, chatID, items[0])
		if err != nil {
			return nil, err
		}
		return []Locator{loc}, nil
	}

	var out []Locator
	for start := 0; start < len(items); start += GroupLimit {
		end := min(start+GroupLimit, len(items))
		chunk := items[start:end]
		if len(chunk) == 1 {
			loc, err := m.transport.SendMedia(ctx, chatID, chunk[0])
			if err != nil {
				return out, err
			}
			out = append(out, loc)
			continue
		}
		locs, err := m.transport.SendGroup(ctx, chatID, chunk)
		if err != nil {
			return out, err
		}
		out = append(out, locs...)
	}
	return out, nil
}

// localImage — картинка из кэша изображений или свежескачанная. false — отправлять по URL.
// Скачанный файл, не прошедший проверку, удаляется, а ошибка уходит в degrade.
func (m *Manager) localImage(ctx context.Context, mediaURL string, p *post.Post) (string, bool, error) {
	if m.images == nil || m.files == nil {
		return "", false, nil
	}
	if e, ok := m.images.Get(ctx, mediaURL); ok {
		if m.files.Exists(e.Locator) {
			return e.Locator, true, nil
		}
		if err := m.images.Evict(ctx, mediaURL); err != nil {
			m.log.Warn("cache evict failed", zap.Error(err))
		}
	}

	path, err := m.files.Fetch(ctx, mediaURL, p.Author, m.opts.MaxBytes)
	if err != nil {
		m.log.Info("image fetch failed, sending by url", zap.String("media", mediaURL), zap.Error(err))
		return "", false, nil
	}
	size, err := m.files.Validate(path, m.opts.MaxBytes)
	if err != nil {
		if rerr := m.files.Remove(path); rerr != nil {
			m.log.Warn("invalid image cleanup failed", zap.String("path", path), zap.Error(rerr))
		}
		return "", false, fmt.Errorf("image %s: %w", mediaURL, err)
	}
	if err := m.images.Put(ctx, mediaURL, storage.Entry{
		Locator:       path,
		Platform:      string(p.Platform),
		Author:        p.Author,
		FileSizeBytes: size,
	}); err != nil {
		m.log.Warn("image cache write failed", zap.Error(err))
	}
	return path, true, nil
}

// degrade — медиа не ушло: шлём текст со ссылкой. Если не ушёл и текст, это DeliveryFailure.
func (m *Manager) degrade(ctx context.Context, chatID int64, caption string, cause error, out Outcome) Outcome {
	m.log.Warn("media delivery failed, sending text", zap.String("url", out.URL), zap.Error(cause))
	loc, err := m.transport.SendText(ctx, chatID, Degraded(caption))
	if err != nil {
		out.Err = &apperr.DeliveryFailure{Err: multierror.Append(cause, err)}
		return out
	}
	out.Degraded = true
	out.Locators = []Locator{loc}
	return out
}

// remember сохраняет локатор доставки. Ошибка записи кэша не влияет на результат.
func (m *Manager) remember(ctx context.Context, rawURL string, loc Locator, e storage.Entry) {
	if m.videos == nil {
		return
	}
	e.Locator = loc.String()
	if err := m.videos.Put(ctx, rawURL, e); err != nil {
		m.log.Warn("cache write failed", zap.String("url", rawURL), zap.Error(err))
	}
}

func isStream(item *post.MediaItem) bool {
	if item.Kind != post.KindVideo {
		return false
	}
	u, err := link.Parse(item.URL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

func duration(d *float64) int {
	if d == nil {
		return 0
	}
	return int(*d + 0.5)
}
