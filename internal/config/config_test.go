package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestApplyEnvDefaults(t *testing.T) {
	cfg := Defaults()
	applyEnv(cfg, envMap(nil))

	assert.Equal(t, int64(50<<20), cfg.MaxDownloadBytes)
	assert.Equal(t, 600*time.Second, cfg.MaxDuration)
	assert.Equal(t, 3, cfg.MaxConcurrentDownloads)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, time.Hour, cfg.TempMaxAge)
	assert.True(t, cfg.GenericDownloader)
	assert.Equal(t, defaultTwitterAPIs, cfg.TwitterAPIs)
	assert.True(t, cfg.ChatAllowed(12345))
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Defaults()
	applyEnv(cfg, envMap(map[string]string{
		"MAX_DOWNLOAD_MB":  "20",
		"MAX_DURATION_SEC": "90",
		"BLOCKED_DOMAINS":  "pornhub.com, example.org ,",
		"BLOCK_NSFW":       "yes",
		"TWITTER_APIS":     "https://a.example,https://b.example",
		"ALLOWED_CHATS":    "-100123, 42, junk",
		"TEMP_MAX_AGE":     "30m",
		"RETRY_ATTEMPTS":   "not-a-number",
		"TEMP_DIR":         "/var/tmp/ls",
	}))

	assert.Equal(t, int64(20<<20), cfg.MaxDownloadBytes)
	assert.Equal(t, 90*time.Second, cfg.MaxDuration)
	assert.Equal(t, []string{"pornhub.com", "example.org"}, cfg.BlockedDomains)
	assert.True(t, cfg.BlockNSFW)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.TwitterAPIs)
	assert.True(t, cfg.ChatAllowed(-100123))
	assert.True(t, cfg.ChatAllowed(42))
	assert.False(t, cfg.ChatAllowed(7))
	assert.Equal(t, 30*time.Minute, cfg.TempMaxAge)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, "/var/tmp/ls/cache", cfg.CacheDir)
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("TRUE", false))
	assert.False(t, parseBool("no", true))
	assert.True(t, parseBool("maybe", true))
}

func TestFromEnvWithoutToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("MAX_DURATION_SEC", "120")
	t.Setenv("CACHE_DSN", "sqlite://cache.db")

	cfg := FromEnv()
	assert.Empty(t, cfg.BotToken)
	assert.Equal(t, 2*time.Minute, cfg.MaxDuration)
	assert.Equal(t, "sqlite://cache.db", cfg.CacheDSN)
}
