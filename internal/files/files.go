// Package files владеет временными файлами: имена, проверка, удаление вместе
// с соседними файлами и периодическая зачистка старого.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/keylock"
)

var (
	ErrFileMissing  = errors.New("file does not exist")
	ErrFileEmpty    = errors.New("file is empty")
	ErrBadExtension = errors.New("unexpected file extension")
	ErrFetchStatus  = errors.New("unexpected http status")
)

const maxTitleRunes = 40

type Manager struct {
	dir          string
	client       *http.Client
	fetchTimeout time.Duration
	log          *zap.Logger
	locks        *keylock.Map
	now          func() time.Time
}

// New создаёт каталог dir, если его нет. client — общий транспорт с прокси;
// fetchTimeout ограничивает одно скачивание по HTTP.
func New(dir string, client *http.Client, fetchTimeout time.Duration, log *zap.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		dir:          dir,
		client:       client,
		fetchTimeout: fetchTimeout,
		log:          log,
		locks:        keylock.New(),
		now:          time.Now,
	}, nil
}

func (m *Manager) Dir() string { return m.dir }

// NewBase — путь без расширения: время, случайный суффикс и кусок заголовка.
// В имени нет точек, поэтому всё после первой точки считается расширением.
func (m *Manager) NewBase(title string) string {
	name := fmt.Sprintf("%s_%s_%s",
		m.now().UTC().Format("20060102T150405"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		sanitize(title),
	)
	return filepath.Join(m.dir, name)
}

func sanitize(title string) string {
	var b strings.Builder
	underscore := false
	n := 0
	for _, r := range strings.ToLower(title) {
		if n >= maxTitleRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			n++
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
			n++
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "media"
	}
	return s
}

// Validate проверяет, что файл есть, не пуст, не больше maxBytes (0 — без лимита)
// и имеет одно из расширений exts (пусто — любое). Возвращает размер.
func (m *Manager) Validate(path string, maxBytes int64, exts ...string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrFileMissing, path)
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrFileMissing, path)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrFileEmpty, path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return info.Size(), &apperr.PolicyViolation{
			Kind:   apperr.PolicyTooLarge,
			Limit:  apperr.Megabytes(maxBytes),
			Actual: apperr.Megabytes(info.Size()),
		}
	}
	if len(exts) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, e := range exts {
			if ext == strings.ToLower(e) {
				ok = true
				break
			}
		}
		if !ok {
			return info.Size(), fmt.Errorf("%w: %s", ErrBadExtension, ext)
		}
	}
	return info.Size(), nil
}

// Exists — файл на месте и не пустой.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Remove удаляет файл и все файлы с тем же базовым именем
// (превью, .info.json, промежуточные форматы).
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	base := baseName(path)
	unlock := m.locks.Lock(base)
	defer unlock()

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), globEscape(base)+".*"))
	if err != nil {
		return err
	}
	matches = append(matches, path)

	var result error
	removed := 0
	for _, p := range matches {
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				result = multierror.Append(result, err)
			}
			continue
		}
		removed++
	}
	m.log.Debug("temp files removed", zap.String("base", base), zap.Int("count", removed))
	return result
}

// Sweep удаляет из каталога файлы старше maxAge вне зависимости от кэшей.
// Подкаталоги (например, каталог кэша) не трогает.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-maxAge)

	var result error
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("temp sweep finished", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed, result
}

// Fetch скачивает URL во временный файл. Больше maxBytes — файл удаляется,
// возвращается PolicyViolation.
func (m *Manager) Fetch(ctx context.Context, rawURL, title string, maxBytes int64) (string, error) {
	if m.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrFetchStatus, resp.StatusCode)
	}

	path := m.NewBase(title) + extension(resp.Header.Get("Content-Type"), rawURL)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = m.Remove(path)
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = m.Remove(path)
		return "", &apperr.PolicyViolation{
			Kind:   apperr.PolicyTooLarge,
			Limit:  apperr.Megabytes(maxBytes),
			Actual: "> " + apperr.Megabytes(maxBytes),
		}
	}

	m.log.Debug("file fetched", zap.String("url", rawURL), zap.String("path", path), zap.Int64("size", n))
	return path, nil
}

var mimeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"audio/mp4":       ".m4a",
}

func extension(contentType, rawURL string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := mimeExt[ct]; ok {
		return ext
	}
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(filepath.Ext(p))
	for _, known := range mimeExt {
		if ext == known {
			return ext
		}
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	if strings.HasPrefix(ct, "video/") {
		return ".mp4"
	}
	return ".jpg"
}

func baseName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
