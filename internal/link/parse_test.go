package link

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"linksave/internal/post"
)

func TestClassifyExactHostname(t *testing.T) {
	tests := []struct {
		url  string
		want post.Platform
		ok   bool
	}{
		{"https://twitter.com/x/status/1", post.PlatformTwitter, true},
		{"https://x.com/x/status/1", post.PlatformTwitter, true},
		{"https://mobile.twitter.com/x/status/1", post.PlatformTwitter, true},
		{"https://nottwitter.com/x", "", false},
		{"https://twitter.com.evil.net/x", "", false},
		{"https://www.tiktok.com/@a/video/1", post.PlatformTikTok, true},
		{"https://vm.tiktok.com/ZMabc/", post.PlatformTikTok, true},
		{"https://www.instagram.com/reel/Cx1/", post.PlatformInstagram, true},
		{"https://bsky.app/profile/a.bsky.social/post/3k", post.PlatformBluesky, true},
		{"https://youtu.be/dQw4w9WgXcQ", post.PlatformYouTube, true},
		{"https://TWITTER.com:443/x/status/1", post.PlatformTwitter, true},
		{"not a url", "", false},
		{"ftp://twitter.com/x", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := Classify(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsLikelyDownloadable(t *testing.T) {
	assert.True(t, IsLikelyDownloadable("https://vimeo.com/12345"))
	assert.True(t, IsLikelyDownloadable("https://player.vimeo.com/video/1"))
	assert.True(t, IsLikelyDownloadable("https://v.redd.it/abc"))
	assert.False(t, IsLikelyDownloadable("https://notvimeo.com/1"))
	assert.False(t, IsLikelyDownloadable("::::"))
}

func TestExtractURLsDeduplicates(t *testing.T) {
	got := ExtractURLs("see http://a.com and http://a.com again")
	assert.Equal(t, []string{"http://a.com"}, got)
}

func TestExtractURLsKeepsOrderAndTrimsPunctuation(t *testing.T) {
	got := ExtractURLs("first https://b.com/x, then (https://a.com/y). and https://b.com/x!")
	assert.Equal(t, []string{"https://b.com/x", "https://a.com/y"}, got)
	assert.Empty(t, ExtractURLs("no links here"))
}

func TestCleanStripsTracking(t *testing.T) {
	a := Clean("https://x.com/alice/status/42?s=20&t=abc&utm_source=tg")
	b := Clean("https://X.com/alice/status/42?t=zzz&s=46")
	assert.Equal(t, "https://x.com/alice/status/42", a)
	assert.Equal(t, a, b)

	assert.Equal(t,
		"https://www.youtube.com/watch?list=L&v=abc",
		Clean("https://www.youtube.com/watch?v=abc&list=L&feature=share#frag"))
}

func TestHostInList(t *testing.T) {
	assert.True(t, HostInList("cdn.example.org", []string{"example.org"}))
	assert.True(t, HostInList("example.org", []string{"www.example.org"}))
	assert.False(t, HostInList("badexample.org", []string{"example.org"}))
}
