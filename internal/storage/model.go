package storage

import "time"

// MediaCache — строка SQL-зеркала кэша доставки.
// Хранит только локатор, без самого файла.
type MediaCache struct {
	ID              uint   `gorm:"primaryKey"`
	Kind            string `gorm:"uniqueIndex:idx_kind_key;size:16;not null"`
	SourceKey       string `gorm:"uniqueIndex:idx_kind_key;size:64;not null"` // Key(url)
	CleanURL        string `gorm:"size:2048;not null"`
	OriginalURL     string `gorm:"size:2048"`
	Locator         string `gorm:"size:512;not null"` // chatID:messageID или путь к файлу
	Platform        string `gorm:"size:32;index"`
	Title           string `gorm:"size:512"`
	Author          string `gorm:"size:256"`
	DurationSeconds *float64
	SizeBytes       int64
	HitCount        int64 `gorm:"default:0;not null"` // сколько раз запись нашлась в зеркале
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// TableName — имя таблицы в БД.
func (MediaCache) TableName() string {
	return "media_cache"
}

func rowFromEntry(kind Kind, e Entry) MediaCache {
	return MediaCache{
		Kind:            string(kind),
		SourceKey:       e.URLHash,
		CleanURL:        e.CleanURL,
		OriginalURL:     e.OriginalURL,
		Locator:         e.Locator,
		Platform:        e.Platform,
		Title:           e.Title,
		Author:          e.Author,
		DurationSeconds: e.DurationSeconds,
		SizeBytes:       e.FileSizeBytes,
		CreatedAt:       e.Timestamp,
	}
}

func (m MediaCache) entry() Entry {
	return Entry{
		URLHash:         m.SourceKey,
		CleanURL:        m.CleanURL,
		OriginalURL:     m.OriginalURL,
		Locator:         m.Locator,
		Platform:        m.Platform,
		Timestamp:       m.CreatedAt.UTC(),
		Title:           m.Title,
		Author:          m.Author,
		DurationSeconds: m.DurationSeconds,
		FileSizeBytes:   m.SizeBytes,
	}
}
