package youtube

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linksave/internal/apperr"
	"linksave/internal/link"
	"linksave/internal/post"
	"linksave/internal/provider"
)

type fakeFetcher struct {
	video     *youtube.Video
	err       error
	gotURL    string
	gotFormat *youtube.Format
}

func (f *fakeFetcher) GetVideoContext(_ context.Context, url string) (*youtube.Video, error) {
	f.gotURL = url
	return f.video, f.err
}

func (f *fakeFetcher) GetStreamURLContext(_ context.Context, _ *youtube.Video, format *youtube.Format) (string, error) {
	f.gotFormat = format
	return "https://rr.googlevideo.com/" + format.QualityLabel, nil
}

func newProvider(f Fetcher) *Provider {
	client := provider.NewClient(provider.ClientConfig{Timeout: time.Second}, nil)
	p := New(client, nil)
	p.yt = f
	return p
}

func TestResolvePicksBestFormatUnderCap(t *testing.T) {
	f := &fakeFetcher{video: &youtube.Video{
		ID:          "dQw4w9WgXcQ",
		Title:       "never gonna",
		Author:      "Rick",
		Duration:    42 * time.Second,
		PublishDate: time.Date(2009, 10, 25, 0, 0, 0, 0, time.UTC),
		Thumbnails:  youtube.Thumbnails{{URL: "https://i/small"}, {URL: "https://i/big"}},
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1"`, QualityLabel: "360p", Height: 360, AudioChannels: 2},
			{ItagNo: 22, MimeType: `video/mp4; codecs="avc1"`, QualityLabel: "720p", Height: 720, AudioChannels: 2},
			{ItagNo: 37, MimeType: `video/mp4; codecs="avc1"`, QualityLabel: "1080p", Height: 1080, AudioChannels: 2},
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1"`, QualityLabel: "1080p-mute", Height: 1080},
		},
	}}

	res, err := newProvider(f).Resolve(context.Background(), "https://youtube.com/shorts/dQw4w9WgXcQ?feature=share")
	require.NoError(t, err)

	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", f.gotURL)
	assert.Equal(t, 22, f.gotFormat.ItagNo)
	assert.Equal(t, "Rick", res.Author)
	assert.Equal(t, "never gonna", res.TextContent)
	require.Len(t, res.MediaItems, 1)
	assert.Equal(t, post.KindVideo, res.MediaItems[0].Kind)
	assert.Equal(t, "https://rr.googlevideo.com/720p", res.MediaItems[0].URL)
	assert.Equal(t, "https://i/big", res.MediaItems[0].ThumbnailURL)
	assert.InDelta(t, 42.0, *res.MediaItems[0].DurationSeconds, 0.001)
	assert.Equal(t, 2009, res.CapturedAt.Year())
}

func TestResolveWithoutAudioFormats(t *testing.T) {
	f := &fakeFetcher{video: &youtube.Video{ID: "dQw4w9WgXcQ", Formats: youtube.FormatList{
		{ItagNo: 137, MimeType: "video/mp4", Height: 1080},
	}}}
	_, err := newProvider(f).Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	assert.ErrorIs(t, err, provider.ErrNoPlayableMedia)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err    error
		reason apperr.Reason
	}{
		{youtube.ErrVideoPrivate, apperr.ReasonForbidden},
		{youtube.ErrLoginRequired, apperr.ReasonForbidden},
		{errors.New("Video unavailable"), apperr.ReasonNotFound},
		{errors.New("connection reset"), apperr.ReasonNetwork},
	}
	for _, c := range cases {
		_, err := newProvider(&fakeFetcher{err: c.err}).Resolve(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
		assert.True(t, apperr.IsReason(err, c.reason), "%v → %v", c.err, err)
	}
}

func TestVideoID(t *testing.T) {
	for in, want := range map[string]string{
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":      "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ&t=10":  "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abc":             "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":       "dQw4w9WgXcQ",
	} {
		got, err := videoID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{
		"https://www.youtube.com/@channel",
		"https://www.youtube.com/watch?v=short",
		"not a url",
	} {
		_, err := videoID(in)
		assert.Error(t, err, in)
	}
}

func TestCanonicalize(t *testing.T) {
	p := newProvider(&fakeFetcher{})
	assert.Equal(t, "https://www.youtube.com/shorts/dQw4w9WgXcQ", p.Canonicalize("https://youtu.be/dQw4w9WgXcQ"))
	assert.Equal(t, "https://www.youtube.com/@channel", p.Canonicalize("https://www.youtube.com/@channel"))
	assert.True(t, p.CanHandle("https://www.youtube.com/shorts/dQw4w9WgXcQ"))
	assert.False(t, p.CanHandle("https://notyoutube.com/shorts/dQw4w9WgXcQ"))
}

func TestChannelLinkHandledButNotResolved(t *testing.T) {
	f := &fakeFetcher{}
	p := newProvider(f)
	channel := "https://www.youtube.com/@channel"

	_, classified := link.Classify(channel)
	require.True(t, classified)
	assert.True(t, p.CanHandle(channel))

	_, err := p.Resolve(context.Background(), channel)
	assert.True(t, apperr.IsReason(err, apperr.ReasonParse))
	assert.Empty(t, f.gotURL)
}
