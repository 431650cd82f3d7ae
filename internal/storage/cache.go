package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"linksave/internal/apperr"
	"linksave/internal/keylock"
	"linksave/internal/link"
)

// Version — версия формата файла кэша. Файл другой версии не мигрируется, а сбрасывается.
const Version = 1

// KeyLength — длина ключа в hex-символах (64 бита sha256).
const KeyLength = 16

type Kind string

const (
	// KindVideo — где в чате уже лежит отправленное сообщение (chatID:messageID).
	KindVideo Kind = "video"
	// KindImage — путь к локальному файлу картинки.
	KindImage Kind = "image"
)

func (k Kind) FileName() string { return string(k) + "_cache.json" }

// Entry — запись кэша. Locator непрозрачен для хранилища.
type Entry struct {
	URLHash         string    `json:"urlHash"`
	CleanURL        string    `json:"cleanUrl"`
	OriginalURL     string    `json:"originalUrl"`
	Locator         string    `json:"deliveryLocator"`
	Platform        string    `json:"platform"`
	Timestamp       time.Time `json:"timestamp"`
	Title           string    `json:"title,omitempty"`
	Author          string    `json:"author,omitempty"`
	DurationSeconds *float64  `json:"durationSeconds,omitempty"`
	FileSizeBytes   int64     `json:"fileSizeBytes,omitempty"`
}

type document struct {
	Version      int               `json:"version"`
	LastUpdated  time.Time         `json:"lastUpdated"`
	TotalEntries int               `json:"totalEntries"`
	Entries      map[string]*Entry `json:"entries"`
}

type Stats struct {
	Kind    Kind    `json:"kind"`
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// Mirror — вторичное хранилище записей (SQL). Ошибки зеркала не ломают JSON-кэш.
type Mirror interface {
	Save(ctx context.Context, kind Kind, e Entry) error
	Find(ctx context.Context, kind Kind, hash string) (Entry, error)
	Delete(ctx context.Context, kind Kind, hash string) error
}

// Key — ключ кэша: sha256 очищенного от трекинга URL в нижнем регистре, первые KeyLength hex.
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(normalize(rawURL)))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

func normalize(rawURL string) string {
	return strings.ToLower(link.Clean(strings.TrimSpace(rawURL)))
}

// Store — кэш одного вида в одном JSON-файле. Загружается целиком при первом
// обращении и целиком перезаписывается при каждом изменении.
type Store struct {
	kind   Kind
	path   string
	log    *zap.Logger
	mirror Mirror
	now    func() time.Time

	loadOnce sync.Once
	mu       sync.RWMutex
	entries  map[string]*Entry

	keys   *keylock.Map
	fileMu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

func Open(dir string, kind Kind, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		kind: kind,
		path: filepath.Join(dir, kind.FileName()),
		log:  log.With(zap.String("cache", string(kind))),
		now:  time.Now,
		keys: keylock.New(),
	}, nil
}

// WithMirror подключает SQL-зеркало.
func (s *Store) WithMirror(m Mirror) *Store {
	s.mirror = m
	return s
}

func (s *Store) Kind() Kind   { return s.kind }
func (s *Store) Path() string { return s.path }

func (s *Store) load() {
	s.loadOnce.Do(func() {
		s.entries = make(map[string]*Entry)

		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			s.log.Warn("cache file unreadable, starting empty", zap.Error(err))
			return
		}

		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.log.Warn("cache reset",
				zap.Error(fmt.Errorf("%w: %v", apperr.ErrCacheCorruption, err)),
				zap.String("path", s.path),
			)
			return
		}
		if doc.Version != Version {
			s.log.Warn("cache reset",
				zap.Error(fmt.Errorf("%w: version %d, want %d", apperr.ErrCacheCorruption, doc.Version, Version)),
				zap.String("path", s.path),
			)
			return
		}
		for k, e := range doc.Entries {
			if e != nil {
				s.entries[k] = e
			}
		}
		s.log.Debug("cache loaded", zap.Int("entries", len(s.entries)))
	})
}

// Get ищет запись по URL. Запись с другим CleanURL под тем же ключом — коллизия
// усечённого хэша: считается промахом и логируется.
func (s *Store) Get(ctx context.Context, rawURL string) (Entry, bool) {
	s.load()
	key := Key(rawURL)
	clean := normalize(rawURL)

	s.mu.RLock()
	e, ok := s.entries[key]
	var out Entry
	if ok {
		out = *e
	}
	s.mu.RUnlock()

	if !ok && s.mirror != nil {
		if me, err := s.mirror.Find(ctx, s.kind, key); err == nil {
			out, ok = me, true
			s.mu.Lock()
			cp := me
			s.entries[key] = &cp
			s.mu.Unlock()
			s.log.Debug("cache warmed from mirror", zap.String("key", key))
		}
	}

	if ok && out.CleanURL != clean {
		s.log.Warn("cache key collision",
			zap.String("key", key),
			zap.String("stored", out.CleanURL),
			zap.String("requested", clean),
		)
		ok = false
	}

	if !ok {
		s.misses.Add(1)
		return Entry{}, false
	}
	s.hits.Add(1)
	return out, true
}

// Put записывает запись под ключом rawURL. Записи одного ключа сериализуются.
func (s *Store) Put(ctx context.Context, rawURL string, e Entry) error {
	s.load()
	key := Key(rawURL)
	unlock := s.keys.Lock(key)
	defer unlock()

	e.URLHash = key
	e.CleanURL = normalize(rawURL)
	if e.OriginalURL == "" {
		e.OriginalURL = rawURL
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	s.entries[key] = &e
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Save(ctx, s.kind, e); err != nil {
			s.log.Warn("cache mirror save failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// Evict удаляет запись — вызывается, когда её носитель (сообщение, файл) пропал.
func (s *Store) Evict(ctx context.Context, rawURL string) error {
	s.load()
	key := Key(rawURL)
	unlock := s.keys.Lock(key)
	defer unlock()

	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, s.kind, key); err != nil {
			s.log.Warn("cache mirror delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	if !ok {
		return nil
	}
	s.log.Debug("cache entry evicted", zap.String("key", key))
	return s.persist()
}

// Cleanup удаляет записи старше maxAge, затем самые старые сверх maxEntries.
// Нулевые значения отключают соответствующее правило. Удалённые записи убираются и из зеркала,
// иначе Get вернёт их обратно.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration, maxEntries int) (int, error) {
	s.load()
	cutoff := s.now().Add(-maxAge)

	var dropped []string
	s.mu.Lock()
	before := len(s.entries)
	if maxAge > 0 {
		for k, e := range s.entries {
			if e.Timestamp.Before(cutoff) {
				delete(s.entries, k)
				dropped = append(dropped, k)
			}
		}
	}
	if maxEntries > 0 && len(s.entries) > maxEntries {
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			return s.entries[keys[i]].Timestamp.Before(s.entries[keys[j]].Timestamp)
		})
		for _, k := range keys[:len(keys)-maxEntries] {
			delete(s.entries, k)
			dropped = append(dropped, k)
		}
	}
	removed := before - len(s.entries)
	s.mu.Unlock()

	if s.mirror != nil {
		for _, k := range dropped {
			if err := s.mirror.Delete(ctx, s.kind, k); err != nil {
				s.log.Warn("cache mirror delete failed", zap.String("key", k), zap.Error(err))
			}
		}
	}

	if removed == 0 {
		return 0, nil
	}
	s.log.Info("cache cleanup", zap.Int("removed", removed), zap.Int("left", before-removed))
	return removed, s.persist()
}

// Entries — копия всех записей, для CLI и зачистки.
func (s *Store) Entries() []Entry {
	s.load()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Stats — счётчики живут до перезапуска процесса.
func (s *Store) Stats() Stats {
	s.load()
	s.mu.RLock()
	n := len(s.entries)
	s.mu.RUnlock()

	hits, misses := s.hits.Load(), s.misses.Load()
	st := Stats{Kind: s.kind, Entries: n, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// persist перезаписывает файл целиком: снимок под RLock, запись во временный
// файл и rename, чтобы читатель никогда не видел половину документа.
func (s *Store) persist() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.mu.RLock()
	doc := document{
		Version:      Version,
		LastUpdated:  s.now().UTC(),
		TotalEntries: len(s.entries),
		Entries:      make(map[string]*Entry, len(s.entries)),
	}
	for k, e := range s.entries {
		cp := *e
		doc.Entries[k] = &cp
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+string(s.kind)+"_cache_*.tmp")
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
