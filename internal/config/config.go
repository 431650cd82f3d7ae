package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config — настройки бота и конвейера разрешения ссылок.
// После Load только читается.
type Config struct {
	BotToken     string
	Development  bool
	Proxy        string
	AllowedChats map[int64]struct{}
	AdminIDs     map[int64]struct{}

	// Лимиты универсального загрузчика
	MaxDownloadBytes       int64
	MaxDuration            time.Duration
	MaxConcurrentDownloads int
	BlockedDomains         []string
	BlockNSFW              bool
	BlockPlaylists         bool
	GenericDownloader      bool
	YtDlpPath              string
	FFmpegPath             string

	// Файлы и кэш
	TempDir         string
	CacheDir        string
	CacheDSN        string
	CacheMaxAge     time.Duration
	CacheMaxEntries int
	TempMaxAge      time.Duration
	CleanupInterval time.Duration

	// HTTP и ретраи
	RetryAttempts  int
	RetryBaseDelay time.Duration
	HTTPTimeout    time.Duration
	FetchTimeout   time.Duration

	// Упорядоченные списки API для провайдеров
	TwitterAPIs   []string
	TikTokAPIs    []string
	InstagramAPIs []string
	BlueskyAPI    string
}

var (
	defaultTwitterAPIs   = []string{"https://api.fxtwitter.com", "https://api.vxtwitter.com"}
	defaultTikTokAPIs    = []string{"https://www.tikwm.com/api/", "https://tikwm.com/api/"}
	defaultInstagramAPIs = []string{"https://api.instafix.dev/api/v1/post", "https://instagram-api.kkinstagram.com/post"}
)

const defaultBlueskyAPI = "https://public.api.bsky.app"

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("required environment variable is not set", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func Load(log *zap.Logger) *Config {
	cfg := Defaults()
	cfg.BotToken = strings.TrimSpace(getEnv("BOT_TOKEN", log))
	applyEnv(cfg, os.Getenv)
	return cfg
}

// FromEnv — как Load, но BOT_TOKEN не обязателен (CLI-команды без бота).
func FromEnv() *Config {
	cfg := Defaults()
	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	applyEnv(cfg, os.Getenv)
	return cfg
}

// Defaults — конфигурация без переменных окружения. Используется CLI-командами и тестами.
func Defaults() *Config {
	tmp := filepath.Join(os.TempDir(), "linksave")
	return &Config{
		AllowedChats:           map[int64]struct{}{},
		AdminIDs:               map[int64]struct{}{},
		MaxDownloadBytes:       50 * 1024 * 1024,
		MaxDuration:            600 * time.Second,
		MaxConcurrentDownloads: 3,
		GenericDownloader:      true,
		YtDlpPath:              "yt-dlp",
		FFmpegPath:             "ffmpeg",
		TempDir:                tmp,
		CacheDir:               filepath.Join(tmp, "cache"),
		CacheMaxAge:            30 * 24 * time.Hour,
		CacheMaxEntries:        5000,
		TempMaxAge:             time.Hour,
		CleanupInterval:        15 * time.Minute,
		RetryAttempts:          3,
		RetryBaseDelay:         time.Second,
		HTTPTimeout:            10 * time.Second,
		FetchTimeout:           30 * time.Second,
		TwitterAPIs:            defaultTwitterAPIs,
		TikTokAPIs:             defaultTikTokAPIs,
		InstagramAPIs:          defaultInstagramAPIs,
		BlueskyAPI:             defaultBlueskyAPI,
	}
}

func applyEnv(cfg *Config, env func(string) string) {
	cfg.Development = env("ENV") == "development"
	cfg.Proxy = strings.TrimSpace(env("PROXY"))
	cfg.AllowedChats = parseIDs(env("ALLOWED_CHATS"))
	cfg.AdminIDs = parseIDs(env("ADMIN_IDS"))

	cfg.MaxDownloadBytes = int64(parseInt(env("MAX_DOWNLOAD_MB"), int(cfg.MaxDownloadBytes>>20))) << 20
	cfg.MaxDuration = time.Duration(parseInt(env("MAX_DURATION_SEC"), int(cfg.MaxDuration/time.Second))) * time.Second
	cfg.MaxConcurrentDownloads = parseInt(env("MAX_CONCURRENT_DOWNLOADS"), cfg.MaxConcurrentDownloads)
	cfg.BlockedDomains = parseList(env("BLOCKED_DOMAINS"), nil)
	cfg.BlockNSFW = parseBool(env("BLOCK_NSFW"), cfg.BlockNSFW)
	cfg.BlockPlaylists = parseBool(env("BLOCK_PLAYLISTS"), cfg.BlockPlaylists)
	cfg.GenericDownloader = parseBool(env("GENERIC_DOWNLOADER"), cfg.GenericDownloader)
	cfg.YtDlpPath = parseString(env("YTDLP_PATH"), cfg.YtDlpPath)
	cfg.FFmpegPath = parseString(env("FFMPEG_PATH"), cfg.FFmpegPath)

	cfg.TempDir = parseString(env("TEMP_DIR"), cfg.TempDir)
	cfg.CacheDir = parseString(env("CACHE_DIR"), filepath.Join(cfg.TempDir, "cache"))
	cfg.CacheDSN = strings.TrimSpace(env("CACHE_DSN"))
	cfg.CacheMaxAge = parseDuration(env("CACHE_MAX_AGE"), cfg.CacheMaxAge)
	cfg.CacheMaxEntries = parseInt(env("CACHE_MAX_ENTRIES"), cfg.CacheMaxEntries)
	cfg.TempMaxAge = parseDuration(env("TEMP_MAX_AGE"), cfg.TempMaxAge)
	cfg.CleanupInterval = parseDuration(env("CLEANUP_INTERVAL"), cfg.CleanupInterval)

	cfg.RetryAttempts = parseInt(env("RETRY_ATTEMPTS"), cfg.RetryAttempts)
	cfg.RetryBaseDelay = parseDuration(env("RETRY_BASE_DELAY"), cfg.RetryBaseDelay)
	cfg.HTTPTimeout = parseDuration(env("HTTP_TIMEOUT"), cfg.HTTPTimeout)
	cfg.FetchTimeout = parseDuration(env("FETCH_TIMEOUT"), cfg.FetchTimeout)

	cfg.TwitterAPIs = parseList(env("TWITTER_APIS"), cfg.TwitterAPIs)
	cfg.TikTokAPIs = parseList(env("TIKTOK_APIS"), cfg.TikTokAPIs)
	cfg.InstagramAPIs = parseList(env("INSTAGRAM_APIS"), cfg.InstagramAPIs)
	cfg.BlueskyAPI = parseString(env("BLUESKY_API"), cfg.BlueskyAPI)
}

// ChatAllowed — пустой список разрешает все чаты.
func (c *Config) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChats) == 0 {
		return true
	}
	_, ok := c.AllowedChats[chatID]
	return ok
}

func (c *Config) IsAdmin(userID int64) bool {
	_, ok := c.AdminIDs[userID]
	return ok
}

func parseList(s string, def []string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parseIDs(s string) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, p := range parseList(s, nil) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

func parseString(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
