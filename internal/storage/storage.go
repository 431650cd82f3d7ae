// Package storage — кэши разрешённых ссылок: JSON-файл на каждый вид кэша
// и необязательное SQL-зеркало через GORM.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

var ErrNotFound = errors.New("cache entry not found")

// SQLStore — обёртка над GORM, зеркалирующая записи JSON-кэша в таблицу media_cache.
type SQLStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// dialector: postgres для DSN вида postgres://… или "host=… ", иначе путь к файлу SQLite.
func dialector(dsn string) (gorm.Dialector, string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(dsn), "postgres"
	}
	return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), "sqlite"
}

// OpenSQL подключается к БД, выполняет AutoMigrate и возвращает SQLStore.
func OpenSQL(dsn string, log *zap.Logger) (*SQLStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gl := zapgorm2.New(log.Named("gorm"))
	gl.LogLevel = gormlogger.Warn
	gl.IgnoreRecordNotFoundError = true
	gl.SlowThreshold = 500 * time.Millisecond

	d, driver := dialector(dsn)
	db, err := gorm.Open(d, &gorm.Config{Logger: gl})
	if err != nil {
		return nil, err
	}

	// Настраиваем пул соединений
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&MediaCache{}); err != nil {
		return nil, err
	}

	log.Info("cache mirror initialized", zap.String("driver", driver))
	return &SQLStore{db: db, log: log}, nil
}

// Close закрывает соединение с БД.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Find ищет запись по ключу. Если найдена — обновляет last_used_at и hit_count.
func (s *SQLStore) Find(ctx context.Context, kind Kind, hash string) (Entry, error) {
	var row MediaCache
	result := s.db.WithContext(ctx).Where("kind = ? AND source_key = ?", string(kind), hash).First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, result.Error
	}

	s.db.WithContext(ctx).Model(&row).Updates(map[string]interface{}{
		"last_used_at": time.Now(),
		"hit_count":    gorm.Expr("hit_count + 1"),
	})
	return row.entry(), nil
}

// Save — вставка или обновление по (kind, source_key).
func (s *SQLStore) Save(ctx context.Context, kind Kind, e Entry) error {
	row := rowFromEntry(kind, e)
	now := time.Now()

	var existing MediaCache
	result := s.db.WithContext(ctx).Where("kind = ? AND source_key = ?", row.Kind, row.SourceKey).First(&existing)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
			row.LastUsedAt = now
			return s.db.WithContext(ctx).Create(&row).Error
		}
		return result.Error
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"clean_url":        row.CleanURL,
		"original_url":     row.OriginalURL,
		"locator":          row.Locator,
		"platform":         row.Platform,
		"title":            row.Title,
		"author":           row.Author,
		"duration_seconds": row.DurationSeconds,
		"size_bytes":       row.SizeBytes,
		"created_at":       row.CreatedAt,
		"last_used_at":     now,
	}).Error
}

// Delete удаляет запись насовсем: носитель пропал, хранить её незачем.
func (s *SQLStore) Delete(ctx context.Context, kind Kind, hash string) error {
	return s.db.WithContext(ctx).
		Where("kind = ? AND source_key = ?", string(kind), hash).
		Delete(&MediaCache{}).Error
}

// Count — число записей вида kind.
func (s *SQLStore) Count(ctx context.Context, kind Kind) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&MediaCache{}).Where("kind = ?", string(kind)).Count(&n).Error
	return n, err
}

// Prune удаляет записи, которые не использовались дольше maxAge.
func (s *SQLStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Where("last_used_at < ?", time.Now().Add(-maxAge)).Delete(&MediaCache{})
	return res.RowsAffected, res.Error
}
