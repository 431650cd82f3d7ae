package tiktok

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linksave/internal/apperr"
	"linksave/internal/post"
	"linksave/internal/provider"
)

func newClient() *provider.Client {
	return provider.NewClient(provider.ClientConfig{
		Timeout: time.Second,
		Retry:   provider.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 2},
	}, nil)
}

func TestResolveVideo(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		_, _ = w.Write([]byte(`{"code":0,"msg":"success","data":{
			"id":"7301","title":"dance","play":"/video/media/play/7301.mp4","cover":"https://p16/cover.jpg",
			"duration":15,"author":{"unique_id":"dancer"},"digg_count":100,"create_time":1700000000}}`))
	}))
	defer srv.Close()

	p := New(newClient(), []string{srv.URL + "/api/"}, nil)
	res, err := p.Resolve(context.Background(), "https://www.tiktok.com/@dancer/video/7301")
	require.NoError(t, err)

	assert.Equal(t, "https://www.tiktok.com/@dancer/video/7301", gotURL)
	assert.Equal(t, "7301", res.ID)
	assert.Equal(t, "dancer", res.Author)
	require.Len(t, res.MediaItems, 1)
	assert.Equal(t, srv.URL+"/video/media/play/7301.mp4", res.MediaItems[0].URL)
	assert.Equal(t, 15.0, *res.MediaItems[0].DurationSeconds)
	assert.Equal(t, int64(100), *res.Engagement.Likes)
	assert.Nil(t, res.Engagement.Shares)
}

func TestResolveImageCarousel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"9","play":"https://music.mp3",
			"images":["https://img/1.jpg","https://img/2.jpg"]}}`))
	}))
	defer srv.Close()

	p := New(newClient(), []string{srv.URL}, nil)
	res, err := p.Resolve(context.Background(), "https://vm.tiktok.com/ZMabc/")
	require.NoError(t, err)
	require.Len(t, res.MediaItems, 2)
	assert.Equal(t, post.KindImage, res.MediaItems[1].Kind)
	assert.Equal(t, post.UnknownAuthor, res.Author)
}

func TestAPIErrorCodeFallsThrough(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":-1,"msg":"Free Api Limit: 1 request/second."}`))
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"1","play":"https://v/1.mp4"}}`))
	}))
	defer good.Close()

	p := New(newClient(), []string{bad.URL, good.URL}, nil)
	res, err := p.Resolve(context.Background(), "https://www.tiktok.com/@a/video/1")
	require.NoError(t, err)
	assert.Equal(t, "1", res.ID)

	p = New(newClient(), []string{bad.URL}, nil)
	_, err = p.Resolve(context.Background(), "https://www.tiktok.com/@a/video/1")
	assert.True(t, apperr.IsReason(err, apperr.ReasonRateLimited))
}

func TestMissingPlayURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"data":{"id":"1"}}`))
	}))
	defer srv.Close()

	_, err := New(newClient(), []string{srv.URL}, nil).Resolve(context.Background(), "https://www.tiktok.com/@a/video/1")
	assert.ErrorIs(t, err, provider.ErrNoPlayableMedia)
}

func TestCanonicalize(t *testing.T) {
	p := New(newClient(), nil, nil)
	assert.Equal(t, "https://www.tnktok.com/@a/video/123", p.Canonicalize("https://www.tiktok.com/@a/video/123?is_from_webapp=1"))
	assert.Equal(t, "https://vm.tnktok.com/ZMabc/", p.Canonicalize("https://vm.tiktok.com/ZMabc"))
	assert.True(t, p.CanHandle("https://m.tiktok.com/v/1.html"))
	assert.False(t, p.CanHandle("https://tiktok.com.evil/x"))
}
